//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/climatescope/climate-analytics/internal/adapter/kafka"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader (extractor
// and committer) and kafka.Writer (loader) correctly round-trip messages
// through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRawTopic)
	createTopic(t, broker, testEnrichedTopic)

	cfg := testKafkaConfig(broker)

	observedAt := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	payload := rawReading(t, "st-001", "Iceland", observedAt, 21.0)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRawTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("st-001"),
		Value: payload,
	}))

	// Extract blocks until the consumer group has partitions assigned and
	// the message is available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	batch, err := reader.Extract(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	raw := batch[0]
	assert.Equal(t, []byte("st-001"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testRawTopic, raw.Topic)

	require.NoError(t, reader.Commit(ctx, batch))

	// Load via kafka.Writer and read the message back.
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	out := pipeline.OutboundMessage{
		Key:   []byte("st-001"),
		Value: []byte(`{"station_id":"st-001"}`),
		Headers: map[string]string{
			pipeline.HeaderRecordType: pipeline.RecordTypeEnriched,
			pipeline.HeaderBatchID:    "batch-1",
		},
	}
	require.NoError(t, writer.Load(ctx, testEnrichedTopic, []pipeline.OutboundMessage{out}))

	consumer := newConsumer(t, broker, testEnrichedTopic)
	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("st-001"), msg.Key)
	assert.Equal(t, out.Value, msg.Value)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, pipeline.RecordTypeEnriched, headers[pipeline.HeaderRecordType])
	assert.Equal(t, "batch-1", headers[pipeline.HeaderBatchID])
}

// TestPipelineEndToEnd runs the full pipeline against real Kafka and checks
// that raw readings come out the other side enriched, with extreme readings
// also landing on the events topic.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRawTopic)
	createTopic(t, broker, testEnrichedTopic)
	createTopic(t, broker, testEventsTopic)

	cfg := testKafkaConfig(broker)

	base := time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)
	readings := []kafkago.Message{
		{Key: []byte("st-001"), Value: rawReading(t, "st-001", "Iceland", base, 12.0)},
		{Key: []byte("st-001"), Value: rawReading(t, "st-001", "Iceland", base.Add(6*time.Hour), 14.5)},
		{Key: []byte("st-002"), Value: rawReading(t, "st-002", "Norway", base, 9.0)},
		{Key: []byte("st-002"), Value: rawReading(t, "st-002", "Norway", base.Add(6*time.Hour), 11.0)},
		{Key: []byte("st-003"), Value: rawReading(t, "st-003", "Spain", base, 28.0)},
		{Key: []byte("st-003"), Value: rawReading(t, "st-003", "Spain", base.Add(6*time.Hour), 41.5)},
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRawTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, readings...))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := newPipeline(t, reader, writer)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Collect every enriched record.
	consumer := newConsumer(t, broker, testEnrichedTopic)
	received := make([]enrichedMessage, 0, len(readings))
	for len(received) < len(readings) {
		received = append(received, readEnriched(ctx, t, consumer))
	}

	byStation := map[string]int{}
	for _, em := range received {
		byStation[em.Record.StationID]++

		assert.Equal(t, em.Record.StationID, em.Key, "message key should be the station id")
		assert.Equal(t, pipeline.RecordTypeEnriched, em.Headers[pipeline.HeaderRecordType])
		assert.NotEmpty(t, em.Headers[pipeline.HeaderBatchID])
		_, err := time.Parse(time.RFC3339, em.Headers[pipeline.HeaderProcessedAt])
		assert.NoError(t, err, "processed_at should be valid RFC3339")

		assert.Contains(t, em.Record.Derived, analytics.DerivedWindChill)
		assert.Contains(t, em.Record.Derived, analytics.DerivedHeatIndex)
	}
	assert.Equal(t, map[string]int{"st-001": 2, "st-002": 2, "st-003": 2}, byStation)

	// The 41.5C reading crosses the fixed 35C threshold.
	eventConsumer := newConsumer(t, broker, testEventsTopic)
	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()

	msg, err := eventConsumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from events topic")
	assert.Equal(t, []byte("st-003"), msg.Key)

	var event analytics.ExtremeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "st-003", event.StationID)
	assert.Equal(t, "Spain", event.Country)
	assert.Contains(t, event.Tags, "Heatwave")

	eventHeaders := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		eventHeaders[h.Key] = string(h.Value)
	}
	assert.Equal(t, pipeline.RecordTypeEvent, eventHeaders[pipeline.HeaderRecordType])

	pipelineCancel()
	require.NoError(t, <-errCh)
}

// TestPipelinePoisonMessage verifies that an undecodable message is skipped
// and the pipeline keeps processing the readings behind it.
func TestPipelinePoisonMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRawTopic)
	createTopic(t, broker, testEnrichedTopic)
	createTopic(t, broker, testEventsTopic)

	cfg := testKafkaConfig(broker)

	observedAt := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRawTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("st-001"), Value: rawReading(t, "st-001", "Iceland", observedAt, 21.0)},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := newPipeline(t, reader, writer)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Only the valid reading should appear on the enriched topic.
	consumer := newConsumer(t, broker, testEnrichedTopic)
	em := readEnriched(ctx, t, consumer)
	assert.Equal(t, "st-001", em.Record.StationID)
	assert.Equal(t, "Iceland", em.Record.Country)

	// Verify no second message arrives (the poison message was skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on enriched topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
