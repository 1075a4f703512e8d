package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
)

// ErrStationNotFound reports that the registry has no entry for a station.
var ErrStationNotFound = errors.New("station not found")

// RawMessage is one unprocessed message from the raw readings topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// OutboundMessage is a serialized message destined for a sink topic.
type OutboundMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// BatchExtractor reads the next batch of raw messages, blocking until at
// least one message is available or the context ends.
type BatchExtractor interface {
	Extract(ctx context.Context) ([]RawMessage, error)
}

// Committer marks messages as consumed. The pipeline commits only after the
// batch's output has been published.
type Committer interface {
	Commit(ctx context.Context, msgs []RawMessage) error
}

// BatchLoader writes serialized messages to the named topic.
type BatchLoader interface {
	Load(ctx context.Context, topic string, msgs []OutboundMessage) error
}

// Station is registry metadata for one observation station.
type Station struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StationDirectory resolves station metadata for enrichment. Implementations
// return ErrStationNotFound for unknown stations.
type StationDirectory interface {
	Lookup(ctx context.Context, stationID string) (Station, error)
}

// RecordSink receives enriched records for later aggregation sweeps.
type RecordSink interface {
	Append(records ...analytics.Record)
	Len() int
}
