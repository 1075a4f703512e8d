package kafka

import (
	"context"
	"log/slog"
	"sort"

	"github.com/climatescope/climate-analytics/internal/config"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces messages to Kafka. One writer serves every outbound topic;
// each batch names its destination.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured brokers.
func NewWriter(cfg config.KafkaConfig, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Compression:  kafkago.Snappy,
	}
	return &Writer{writer: w, logger: logger}
}

// Load publishes a batch to one topic in a single WriteMessages call.
func (w *Writer) Load(ctx context.Context, topic string, msgs []pipeline.OutboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	kmsgs := make([]kafkago.Message, len(msgs))
	for i := range msgs {
		kmsgs[i] = toKafkaMessage(topic, msgs[i])
	}
	return w.writer.WriteMessages(ctx, kmsgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toKafkaMessage converts an outbound message for one topic. Headers are
// emitted in key order so the wire form is stable.
func toKafkaMessage(topic string, msg pipeline.OutboundMessage) kafkago.Message {
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(msg.Headers[k])})
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
