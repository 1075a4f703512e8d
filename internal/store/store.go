// Package store keeps recent enriched records in memory so the periodic
// aggregation sweep has a window of data to summarize.
package store

import (
	"sync"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/jonboulle/clockwork"
)

// Store is a concurrency-safe bounded buffer of enriched records.
// Retention is enforced by count and by observation age; eviction is
// oldest-first. It implements pipeline.RecordSink.
type Store struct {
	mu      sync.RWMutex
	records []analytics.Record

	// retention configuration
	maxRecords int           // max records kept; <= 0 means unlimited
	maxAge     time.Duration // optional max observation age

	clock clockwork.Clock
}

// New creates a store with the given bounds.
func New(maxRecords int, maxAge time.Duration, clock clockwork.Clock) *Store {
	return &Store{
		maxRecords: maxRecords,
		maxAge:     maxAge,
		clock:      clock,
	}
}

// Append adds records and enforces retention.
func (s *Store) Append(records ...analytics.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, records...)

	// Enforce retention by age first so stale records never crowd out
	// fresh ones under the count bound.
	s.pruneByAgeLocked()

	// Enforce retention by count.
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		over := len(s.records) - s.maxRecords
		s.records = s.records[over:]
	}
}

// Len reports the current record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot drops expired records, then returns a copy of the rest in
// arrival order. The copy is the caller's to keep.
func (s *Store) Snapshot() []analytics.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneByAgeLocked()

	out := make([]analytics.Record, len(s.records))
	copy(out, s.records)
	return out
}

// pruneByAgeLocked filters out records whose observation time fell behind
// the age cutoff. Records may arrive out of timestamp order, so the whole
// slice is scanned rather than just a leading prefix.
func (s *Store) pruneByAgeLocked() {
	if s.maxAge <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.maxAge)
	kept := s.records[:0]
	for _, rec := range s.records {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	s.records = kept
}
