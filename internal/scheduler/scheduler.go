// Package scheduler runs the periodic aggregation sweep over the record
// store and publishes the resulting summaries.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/climatescope/climate-analytics/internal/observability"
	"github.com/climatescope/climate-analytics/internal/pipeline"
)

// SnapshotSource hands the sweeper the records to summarize.
type SnapshotSource interface {
	Snapshot() []analytics.Record
}

// Sweeper aggregates the stored records on an interval and publishes one
// message per summary bucket.
type Sweeper struct {
	scheduler  *gocron.Scheduler
	source     SnapshotSource
	aggregator *analytics.Aggregator
	loader     pipeline.BatchLoader
	topic      string
	interval   time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a sweeper. It does not start sweeping until Start.
func New(
	source SnapshotSource,
	aggregator *analytics.Aggregator,
	loader pipeline.BatchLoader,
	topic string,
	interval time.Duration,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Sweeper {
	return &Sweeper{
		scheduler:  gocron.NewScheduler(time.UTC),
		source:     source,
		aggregator: aggregator,
		loader:     loader,
		topic:      topic,
		interval:   interval,
		logger:     logger,
		metrics:    metrics,
	}
}

// Start schedules the periodic sweep and starts the underlying scheduler.
func (s *Sweeper) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 5
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := s.RunSweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("sweeper started", "interval_minutes", minutes, "topic", s.topic)
	return nil
}

// Stop stops the scheduler and cancels any future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunSweep aggregates the current snapshot and publishes the buckets. An
// empty store is a quiet no-op.
func (s *Sweeper) RunSweep(ctx context.Context) error {
	start := time.Now()

	records := s.source.Snapshot()
	if len(records) == 0 {
		s.logger.Debug("sweep skipped, no records in store")
		return nil
	}

	buckets := s.aggregator.Aggregate(records)
	msgs, err := encodeBuckets(buckets)
	if err != nil {
		return err
	}
	if err := s.loader.Load(ctx, s.topic, msgs); err != nil {
		return fmt.Errorf("publish summaries: %w", err)
	}

	s.metrics.SweepBuckets.Add(float64(len(buckets)))
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("sweep completed",
		"records", len(records),
		"buckets", len(buckets),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func encodeBuckets(buckets []analytics.Bucket) ([]pipeline.OutboundMessage, error) {
	sweptAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]pipeline.OutboundMessage, 0, len(buckets))
	for _, b := range buckets {
		value, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal bucket: %w", err)
		}
		out = append(out, pipeline.OutboundMessage{
			Key:   []byte(b.GroupKey),
			Value: value,
			Headers: map[string]string{
				pipeline.HeaderRecordType:  pipeline.RecordTypeSummary,
				pipeline.HeaderProcessedAt: sweptAt,
			},
		})
	}
	return out, nil
}
