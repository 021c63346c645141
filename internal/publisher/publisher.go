// Package publisher implements the resilient publish pipeline: topic
// routing, wire-schema normalization and, for real transports, bounded
// retry around a circuit breaker around the publish call.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/internal/breaker"
	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/metrics"
	"github.com/EgorkaKv/sensor-gate/internal/retry"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
)

// wireReading is the schema readings travel in on the bus: ISO-8601
// timestamp string rather than epoch units, floats for numerics.
type wireReading struct {
	DeviceID   int64   `json:"device_id"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  string  `json:"timestamp"`
}

// Config selects the pipeline's resilience parameters.
type Config struct {
	Breaker breaker.Config
	Retry   retry.Config

	// Direct skips breaker and retry entirely. Set for the mock
	// transport, which never fails.
	Direct bool
}

// Pipeline routes validated readings onto the bus.
type Pipeline struct {
	transport transport.Publisher
	breaker   *breaker.Breaker
	retryCfg  retry.Config
	direct    bool
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New builds a pipeline over the given transport.
func New(t transport.Publisher, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		transport: t,
		breaker:   breaker.New(cfg.Breaker),
		retryCfg:  cfg.Retry,
		direct:    cfg.Direct,
		metrics:   m,
		logger:    logger.With().Str("component", "publish_pipeline").Logger(),
	}
}

// Submit publishes one reading and returns the bus message id.
//
// Failure surface: domain.ErrUnmappedSensorType for missing routes,
// domain.ErrPublishUnavailable when the breaker rejects the call or the
// retry budget is exhausted, and the transport's own error otherwise. No
// reading is dropped silently.
func (p *Pipeline) Submit(ctx context.Context, reading domain.SensorReading) (string, error) {
	topic, err := p.transport.ResolveTopic(reading.SensorType)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(wireReading{
		DeviceID:   reading.DeviceID,
		SensorType: reading.SensorType.String(),
		Value:      reading.Value,
		Latitude:   reading.Latitude,
		Longitude:  reading.Longitude,
		Timestamp:  reading.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode reading: %w", err)
	}

	start := time.Now()
	id, err := p.publish(ctx, topic, payload)
	p.observe(topic, time.Since(start), err)

	if err != nil {
		p.logger.Error().Err(err).
			Str("topic", topic).
			Int64("device_id", reading.DeviceID).
			Str("sensor_type", reading.SensorType.String()).
			Msg("publish failed")
		return "", err
	}

	p.logger.Debug().
		Str("topic", topic).
		Str("message_id", id).
		Int64("device_id", reading.DeviceID).
		Msg("reading published")

	return id, nil
}

func (p *Pipeline) publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if p.direct {
		return p.transport.Publish(ctx, topic, payload)
	}

	id, err := retry.Do(ctx, p.retryCfg, func() (string, error) {
		return p.breaker.Execute(func() (string, error) {
			return p.transport.Publish(ctx, topic, payload)
		})
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) || domain.IsTransient(err) {
			return "", fmt.Errorf("%w: %w", domain.ErrPublishUnavailable, err)
		}
		return "", err
	}

	return id, nil
}

func (p *Pipeline) observe(topic string, elapsed time.Duration, err error) {
	if p.metrics == nil {
		return
	}

	result := "ok"
	switch {
	case errors.Is(err, domain.ErrPublishUnavailable):
		result = "unavailable"
	case err != nil:
		result = "error"
	}

	p.metrics.PublishTotal.WithLabelValues(topic, result).Inc()
	p.metrics.PublishDuration.WithLabelValues(topic).Observe(elapsed.Seconds())
	p.metrics.BreakerState.Set(float64(p.breaker.State()))
}

// BreakerState exposes the breaker state for health reporting.
func (p *Pipeline) BreakerState() breaker.State {
	return p.breaker.State()
}
