// Package kafka publishes layer events to the notification sink. A
// downstream publishing service consumes these events to register finished
// rasters as map layers; the pipeline itself never talks to the map server.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
)

// LayerEvent announces one finished raster in the results tree.
type LayerEvent struct {
	Area       string    `json:"area"`
	Category   string    `json:"category"`
	Index      string    `json:"index"`
	Kind       string    `json:"kind"` // "timestep", "yearly", "monthly"
	Key        string    `json:"key"`  // date or cohort key
	Path       string    `json:"path"`
	ProducedAt time.Time `json:"produced_at"`
}

// Notifier produces layer events to the configured topic.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the layer-event topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// Publish serializes and sends one layer event.
func (n *Notifier) Publish(ctx context.Context, event LayerEvent) error {
	if event.ProducedAt.IsZero() {
		event.ProducedAt = domain.Now().UTC()
	}
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, msg)
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a LayerEvent into a Kafka message keyed by
// area/category/index so one layer's events stay on one partition.
func serializeToMessage(event LayerEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize layer event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Area + "/" + event.Category + "/" + event.Index),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "produced_at", Value: []byte(event.ProducedAt.Format(time.RFC3339))},
		},
	}, nil
}
