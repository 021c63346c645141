// Package worker bridges the message bus to the time-series store for
// self-contained deployments: it drains published readings and writes them
// in batches. Not part of the synchronous request path.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
)

// Inserter is the slice of the store the worker needs.
type Inserter interface {
	InsertBatch(ctx context.Context, readings []domain.SensorReading) error
}

// wireReading mirrors the bus schema produced by the publish pipeline.
type wireReading struct {
	DeviceID   int64   `json:"device_id"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  string  `json:"timestamp"`
}

// Config sizes the worker pool.
type Config struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig matches the gateway's bundled-writer defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, BatchSize: 100, FlushInterval: 5 * time.Second}
}

// Writer accumulates decoded readings and flushes them to the store.
type Writer struct {
	store  Inserter
	cfg    Config
	logger zerolog.Logger
}

// NewWriter builds a writer pool over the store.
func NewWriter(store Inserter, cfg Config, logger zerolog.Logger) *Writer {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	return &Writer{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "store_writer").Logger(),
	}
}

// Start runs the worker pool until ctx is cancelled. Each worker owns its
// own batch; the consumer fans messages out across them.
func (w *Writer) Start(ctx context.Context, consume func(ctx context.Context, handler func([]byte) error) error) error {
	feed := make(chan []byte, w.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.run(ctx, id, feed)
		}(i)
	}

	err := consume(ctx, func(payload []byte) error {
		select {
		case feed <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	close(feed)
	wg.Wait()

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// StartConsumer is a convenience wrapper over a transport.Consumer.
func (w *Writer) StartConsumer(ctx context.Context, c transport.Consumer) error {
	return w.Start(ctx, c.Consume)
}

func (w *Writer) run(ctx context.Context, id int, feed <-chan []byte) {
	logger := w.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("worker started")
	defer logger.Debug().Msg("worker stopped")

	batch := make([]domain.SensorReading, 0, w.cfg.BatchSize)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch, logger)
		batch = batch[:0]
	}

	for {
		select {
		case payload, ok := <-feed:
			if !ok {
				flush()
				return
			}

			reading, err := decodeReading(payload)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping undecodable message")
				continue
			}

			batch = append(batch, reading)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (w *Writer) flush(batch []domain.SensorReading, logger zerolog.Logger) {
	// Flushes survive shutdown: use a fresh bounded context so cancelled
	// requests don't strand buffered readings.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		logger.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to store batch")
		return
	}

	logger.Debug().
		Int("batch_size", len(batch)).
		Dur("elapsed", time.Since(start)).
		Msg("batch stored")
}

func decodeReading(payload []byte) (domain.SensorReading, error) {
	var wire wireReading
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.SensorReading{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return domain.SensorReading{}, err
	}

	return domain.SensorReading{
		DeviceID:   wire.DeviceID,
		SensorType: domain.SensorType(wire.SensorType),
		Value:      wire.Value,
		Latitude:   wire.Latitude,
		Longitude:  wire.Longitude,
		Timestamp:  ts,
	}, nil
}
