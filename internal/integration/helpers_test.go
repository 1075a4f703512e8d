//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/climatescope/climate-analytics/internal/adapter/kafka"
	"github.com/climatescope/climate-analytics/internal/config"
	"github.com/climatescope/climate-analytics/internal/observability"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	testRawTopic      = "test-raw-readings"
	testEnrichedTopic = "test-enriched-records"
	testEventsTopic   = "test-extreme-events"
)

// startKafka boots a single-node Kafka container and returns its broker
// address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKafkaConfig builds adapter configuration with a unique consumer group
// so tests never steal each other's offsets.
func testKafkaConfig(broker string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:        []string{broker},
		RawTopic:       testRawTopic,
		EnrichedTopic:  testEnrichedTopic,
		EventsTopic:    testEventsTopic,
		SummariesTopic: "test-summaries",
		GroupID:        fmt.Sprintf("test-group-%d", time.Now().UnixNano()),
		BatchSize:      50,
		MaxWait:        500 * time.Millisecond,
	}
}

// newPipeline wires a real analytics core between the given Kafka adapters.
// The detector uses one fixed threshold so event emission is deterministic.
func newPipeline(t *testing.T, reader *kafka.Reader, writer *kafka.Writer) *pipeline.Pipeline {
	t.Helper()

	normalizer, err := analytics.NewNormalizer(analytics.DefaultFieldMapping())
	require.NoError(t, err)
	remediator, err := analytics.NewRemediator()
	require.NoError(t, err)
	deriver, err := analytics.NewDeriver()
	require.NoError(t, err)
	detector, err := analytics.NewDetector(map[string][]analytics.ThresholdSpec{
		analytics.MetricTemperature: {analytics.Fixed(35, analytics.Above).Tagged("Heatwave")},
	})
	require.NoError(t, err)

	core := pipeline.Core{
		Normalizer: normalizer,
		Remediator: remediator,
		Deriver:    deriver,
		Detector:   detector,
	}
	topics := pipeline.Topics{Enriched: testEnrichedTopic, Events: testEventsTopic}
	return pipeline.New(reader, reader, writer, core, topics, discardLogger(), observability.NewMetricsForTesting())
}

// rawReading serializes one canonical-dialect station reading.
func rawReading(t *testing.T, stationID, country string, ts time.Time, tempC float64) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"station_id":    stationID,
		"country":       country,
		"timestamp":     ts.Format(time.RFC3339),
		"temperature_c": tempC,
		"humidity_pct":  55.0,
		"wind_kph":      12.0,
		"pressure_mb":   1013.0,
	})
	require.NoError(t, err)
	return payload
}

func newConsumer(t *testing.T, broker, topic string) *kafkago.Reader {
	t.Helper()

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// enrichedMessage holds a deserialized record read from the enriched topic.
type enrichedMessage struct {
	Record  analytics.Record
	Key     string
	Headers map[string]string
}

// readEnriched reads a single message from the consumer and deserializes it.
func readEnriched(ctx context.Context, t *testing.T, consumer *kafkago.Reader) enrichedMessage {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from enriched topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var rec analytics.Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal enriched record")

	return enrichedMessage{Record: rec, Key: string(msg.Key), Headers: headers}
}
