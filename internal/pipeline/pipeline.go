// Package pipeline runs the batch loop feeding raw readings through the
// analytics core and publishing the results.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/climatescope/climate-analytics/internal/observability"
	"github.com/google/uuid"
)

// Core bundles the analytics stages applied to every batch, in order:
// normalize, remediate, derive, detect.
type Core struct {
	Normalizer *analytics.Normalizer
	Remediator *analytics.Remediator
	Deriver    *analytics.Deriver
	Detector   *analytics.Detector
}

// Topics names the sink topics the pipeline publishes to.
type Topics struct {
	Enriched string
	Events   string
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor BatchExtractor
	committer Committer
	loader    BatchLoader
	core      Core
	topics    Topics
	directory StationDirectory
	sink      RecordSink
	logger    *slog.Logger
	metrics   *observability.Metrics
	runID     string
	ready     atomic.Bool
}

// Option adjusts optional Pipeline behavior.
type Option func(*Pipeline)

// WithStationDirectory enables registry enrichment of normalized records.
func WithStationDirectory(d StationDirectory) Option {
	return func(p *Pipeline) { p.directory = d }
}

// WithRecordSink forwards enriched records to a store for aggregation sweeps.
func WithRecordSink(s RecordSink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// New creates a Pipeline with the given ports, core stages, and observability.
func New(e BatchExtractor, c Committer, l BatchLoader, core Core, topics Topics, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: e,
		committer: c,
		loader:    l,
		core:      core,
		topics:    topics,
		logger:    logger,
		metrics:   metrics,
		runID:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has published at least one
// enriched record, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any records yet")
	}
	return nil
}

// Run executes the batch ETL loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "run_id", p.runID)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during Kafka outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	batch, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RecordsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	batchID := uuid.NewString()
	stats, err := p.processMessages(ctx, batch, batchID)
	if err != nil {
		p.logger.Error("batch failed", "batch_id", batchID, "error", err)
		p.metrics.BatchesProcessed.WithLabelValues("error").Inc()
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	duration := time.Since(start)
	p.metrics.BatchesProcessed.WithLabelValues("ok").Inc()
	p.metrics.BatchDuration.Observe(duration.Seconds())
	p.metrics.LastBatchTime.SetToCurrentTime()
	if stats.published > 0 {
		p.ready.Store(true)
	}

	p.logger.Info("batch processed",
		"batch_id", batchID,
		"consumed", stats.consumed,
		"rejected", stats.rejected,
		"records", stats.published,
		"dropped", stats.dropped,
		"filled", stats.filled,
		"events", stats.events,
		"duration_ms", duration.Milliseconds(),
	)
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
