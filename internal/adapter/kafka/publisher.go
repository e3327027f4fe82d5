package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/av-incident-etl/internal/config"
	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// messageWriter is the part of kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher emits one event per written incident.
// It implements pipeline.EventPublisher.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured incident topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes incidents and writes them in a single WriteMessages call.
// Messages are keyed by external ID so updates to one incident stay ordered.
func (p *Publisher) Publish(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(incidents))
	for i := range incidents {
		msg, err := serializeToMessage(incidents[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d incidents: %w", len(msgs), err)
	}
	p.logger.Debug("incidents published", "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an Incident into a Kafka message.
func serializeToMessage(inc domain.Incident) (kafkago.Message, error) {
	data, err := json.Marshal(inc)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident %s: %w", inc.ExternalID, err)
	}
	return kafkago.Message{
		Key:   []byte(inc.ExternalID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(inc.Source)},
			{Key: "incident_type", Value: []byte(inc.IncidentType)},
			{Key: "geo_tier", Value: []byte(inc.GeoTier)},
		},
	}, nil
}
