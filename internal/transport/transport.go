// Package transport abstracts the message bus the gateway publishes sensor
// readings to. The data path depends only on the Publisher interface; a
// Kafka-backed client and an in-memory mock satisfy it.
package transport

import (
	"context"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// Publisher is the outbound capability the publish pipeline is built on.
type Publisher interface {
	// ResolveTopic maps a sensor type to its transport topic. Returns
	// domain.ErrUnmappedSensorType when no route is configured.
	ResolveTopic(sensorType domain.SensorType) (string, error)

	// Publish sends payload to topic and returns the bus-assigned message
	// id. Real implementations may fail with *domain.TransientError kinds
	// the retry policy recognizes.
	Publish(ctx context.Context, topic string, payload []byte) (string, error)

	// Health reports connectivity and implementation metadata.
	Health(ctx context.Context) Health

	Close() error
}

// Consumer drains readings from the bus, one handler call per message.
// Used by the store-writer worker; not part of the publish data path.
type Consumer interface {
	Consume(ctx context.Context, handler func(payload []byte) error) error
	Close() error
}

// Health is the status snapshot returned by Publisher.Health.
type Health struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// TopicRoutes maps sensor types to topic names. Read-only after startup.
type TopicRoutes map[domain.SensorType]string

// DefaultTopicRoutes mirrors the production topic layout.
func DefaultTopicRoutes() TopicRoutes {
	return TopicRoutes{
		domain.SensorTemperature: "sensor-temperature",
		domain.SensorHumidity:    "sensor-humidity",
		domain.SensorNDIR:        "sensor-ndir",
	}
}

// Resolve returns the topic for a sensor type.
func (r TopicRoutes) Resolve(sensorType domain.SensorType) (string, error) {
	topic, ok := r[sensorType]
	if !ok || topic == "" {
		return "", domain.ErrUnmappedSensorType
	}
	return topic, nil
}

// Topics lists the configured topic names.
func (r TopicRoutes) Topics() []string {
	topics := make([]string, 0, len(r))
	for _, t := range r {
		topics = append(topics, t)
	}
	return topics
}
