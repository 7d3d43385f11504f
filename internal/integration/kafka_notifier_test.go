//go:build integration

// Package integration holds tests that need real infrastructure. They are
// excluded from the default build; run them with:
//
//	go test -tags integration ./internal/integration/...
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

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/cityclimate/rasterflow/internal/adapter/kafka"
	"github.com/cityclimate/rasterflow/internal/config"
)

const testTopic = "raster-layers-test"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka and returns its broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("rasterflow-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

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
	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestNotifierPublish verifies that a published layer event arrives on the
// topic with the partition key, headers, and payload the downstream
// publishing service expects.
func TestNotifierPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
	}
	notifier := kafkaadapter.NewNotifier(cfg, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	produced := time.Date(2023, time.August, 15, 12, 0, 0, 0, time.UTC)
	event := kafkaadapter.LayerEvent{
		Area:       "stuttgart",
		Category:   "heat_islands",
		Index:      "lst",
		Kind:       "monthly",
		Key:        "month_2023_08",
		Path:       "/data/results/stuttgart/heat_islands/lst/aggregates/monthly/lst_month_2023_08.tiff",
		ProducedAt: produced,
	}
	require.NoError(t, notifier.Publish(ctx, event))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read layer event from topic")

	assert.Equal(t, "stuttgart/heat_islands/lst", string(msg.Key))

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "monthly", headers["kind"])
	assert.Equal(t, "2023-08-15T12:00:00Z", headers["produced_at"])

	var decoded kafkaadapter.LayerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)
}

// TestNotifierDefaultTimestamp verifies the notifier stamps events that the
// caller leaves unstamped.
func TestNotifierDefaultTimestamp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
	}
	notifier := kafkaadapter.NewNotifier(cfg, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	require.NoError(t, notifier.Publish(ctx, kafkaadapter.LayerEvent{
		Area:     "stuttgart",
		Category: "vegetation_indices",
		Index:    "ndvi",
		Kind:     "timestep",
		Key:      "2023-08-15",
		Path:     "/data/results/x.tiff",
	}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)

	var decoded kafkaadapter.LayerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.False(t, decoded.ProducedAt.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), decoded.ProducedAt, time.Minute)
}
