package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/climatescope/climate-analytics/internal/config"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes raw station readings from Kafka in batches.
// It implements pipeline.BatchExtractor and pipeline.Committer.
type Reader struct {
	reader    *kafkago.Reader
	batchSize int
	maxWait   time.Duration
	logger    *slog.Logger
}

// NewReader creates a consumer-group reader on the raw readings topic.
// Offsets are committed explicitly through Commit, never on fetch.
func NewReader(cfg config.KafkaConfig, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.RawTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{
		reader:    r,
		batchSize: cfg.BatchSize,
		maxWait:   cfg.MaxWait,
		logger:    logger,
	}
}

// Extract blocks until at least one message arrives, then drains whatever
// else shows up within the batch window, up to the batch size.
func (r *Reader) Extract(ctx context.Context) ([]pipeline.RawMessage, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []pipeline.RawMessage{mapMessage(first)}

	drainCtx, cancel := context.WithTimeout(ctx, r.maxWait)
	defer cancel()
	for len(batch) < r.batchSize {
		msg, err := r.reader.FetchMessage(drainCtx)
		if err != nil {
			break
		}
		batch = append(batch, mapMessage(msg))
	}
	return batch, nil
}

// Commit marks the batch's offsets as processed in the consumer group.
func (r *Reader) Commit(ctx context.Context, msgs []pipeline.RawMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	kmsgs := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = kafkago.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	}
	return r.reader.CommitMessages(ctx, kmsgs...)
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage converts a Kafka message into the transport-neutral form the
// pipeline consumes.
func mapMessage(msg kafkago.Message) pipeline.RawMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return pipeline.RawMessage{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
