package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
)

// Message header names attached to every published message.
const (
	HeaderRecordType  = "record_type"
	HeaderBatchID     = "batch_id"
	HeaderProcessedAt = "processed_at"
)

// Record type header values.
const (
	RecordTypeEnriched = "enriched_record"
	RecordTypeEvent    = "extreme_event"
	RecordTypeSummary  = "aggregate_summary"
)

// batchStats carries per-stage counts for the batch log line.
type batchStats struct {
	consumed  int
	rejected  int
	published int
	dropped   int
	filled    int
	events    int
}

// processMessages feeds one batch through the analytics core and publishes
// the results. Offsets are committed only after every publish succeeded, so
// a failed batch is redelivered rather than lost.
func (p *Pipeline) processMessages(ctx context.Context, batch []RawMessage, batchID string) (batchStats, error) {
	stats := batchStats{consumed: len(batch)}

	raws := make([]analytics.RawRecord, 0, len(batch))
	for _, msg := range batch {
		var raw analytics.RawRecord
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			p.logger.Warn("undecodable message, skipping",
				"batch_id", batchID,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			stats.rejected++
			continue
		}
		raws = append(raws, raw)
	}

	records, rejected := p.core.Normalizer.Normalize(raws)
	stats.rejected += rejected

	remediated, diag := p.core.Remediator.Remediate(records)
	stats.dropped = len(records) - len(remediated)
	stats.filled = diag.TotalFilled()

	p.enrichFromRegistry(ctx, remediated)

	enriched := p.core.Deriver.Derive(remediated)
	events := p.core.Detector.Detect(enriched)
	stats.published = len(enriched)
	stats.events = len(events)

	if len(enriched) > 0 {
		msgs, err := encodeRecords(enriched, batchID)
		if err != nil {
			return stats, err
		}
		if err := p.loader.Load(ctx, p.topics.Enriched, msgs); err != nil {
			return stats, fmt.Errorf("publish enriched records: %w", err)
		}
	}

	if len(events) > 0 {
		msgs, err := encodeEvents(events, batchID)
		if err != nil {
			return stats, err
		}
		if err := p.loader.Load(ctx, p.topics.Events, msgs); err != nil {
			return stats, fmt.Errorf("publish events: %w", err)
		}
	}

	if p.sink != nil && len(enriched) > 0 {
		p.sink.Append(enriched...)
		p.metrics.StoreRecords.Set(float64(p.sink.Len()))
	}

	if err := p.committer.Commit(ctx, batch); err != nil {
		// The batch is already published; a failed commit means redelivery,
		// not data loss.
		p.logger.Warn("commit failed", "batch_id", batchID, "error", err)
	}

	p.metrics.RecordsNormalized.Add(float64(len(records)))
	p.metrics.RecordsRejected.Add(float64(stats.rejected))
	p.metrics.RecordsDropped.Add(float64(stats.dropped))
	p.metrics.ValuesFilled.Add(float64(stats.filled))
	for _, event := range events {
		for _, tag := range event.Tags {
			p.metrics.EventsDetected.WithLabelValues(tag).Inc()
		}
	}

	return stats, nil
}

// enrichFromRegistry fills missing country and coordinates from the station
// directory. Lookup failures degrade gracefully: the record moves on with
// whatever fields it already has.
func (p *Pipeline) enrichFromRegistry(ctx context.Context, records []analytics.Record) {
	if p.directory == nil {
		return
	}

	for i := range records {
		rec := &records[i]
		if rec.Country != "" && rec.Latitude != nil && rec.Longitude != nil {
			continue
		}

		station, err := p.directory.Lookup(ctx, rec.StationID)
		switch {
		case errors.Is(err, ErrStationNotFound):
			p.metrics.RegistryLookups.WithLabelValues("not_found").Inc()
			continue
		case err != nil:
			p.metrics.RegistryLookups.WithLabelValues("error").Inc()
			p.logger.Debug("registry lookup failed", "station_id", rec.StationID, "error", err)
			continue
		}
		p.metrics.RegistryLookups.WithLabelValues("ok").Inc()

		// Fill only absent fields; observed values win over registry data.
		if rec.Country == "" {
			rec.Country = station.Country
		}
		if station.Latitude != 0 || station.Longitude != 0 {
			if rec.Latitude == nil {
				lat := station.Latitude
				rec.Latitude = &lat
			}
			if rec.Longitude == nil {
				lon := station.Longitude
				rec.Longitude = &lon
			}
		}
	}
}

func encodeRecords(records []analytics.Record, batchID string) ([]OutboundMessage, error) {
	processedAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]OutboundMessage, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		out = append(out, OutboundMessage{
			Key:   []byte(rec.StationID),
			Value: value,
			Headers: map[string]string{
				HeaderRecordType:  RecordTypeEnriched,
				HeaderBatchID:     batchID,
				HeaderProcessedAt: processedAt,
			},
		})
	}
	return out, nil
}

func encodeEvents(events []analytics.ExtremeEvent, batchID string) ([]OutboundMessage, error) {
	processedAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]OutboundMessage, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		out = append(out, OutboundMessage{
			Key:   []byte(event.StationID),
			Value: value,
			Headers: map[string]string{
				HeaderRecordType:  RecordTypeEvent,
				HeaderBatchID:     batchID,
				HeaderProcessedAt: processedAt,
			},
		})
	}
	return out, nil
}
