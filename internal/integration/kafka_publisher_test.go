//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/av-incident-etl/internal/adapter/kafka"
	"github.com/couchcryptid/av-incident-etl/internal/config"
	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

const testTopic = "test-av-incidents"

func TestKafkaPublisher_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	pub := kafka.NewPublisher(&config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}, testLogger())
	defer pub.Close()

	inc := domain.Incident{
		IncidentType: domain.TypeNearMiss,
		AVCompany:    "zoox",
		Location:     domain.Point{Lat: 36.1699, Lon: -115.1398},
		OccurredAt:   time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		Status:       domain.StatusVerified,
		Source:       domain.SourceNHTSA,
		ExternalID:   "nhtsa-ads-30300-1",
		GeoTier:      domain.TierCity,
	}
	require.NoError(t, pub.Publish(ctx, []domain.Incident{inc}))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from incident topic")

	assert.Equal(t, inc.ExternalID, string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"source": "nhtsa", "incident_type": "near_miss", "geo_tier": "city"}, headers)

	var got domain.Incident
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, inc, got)
}
