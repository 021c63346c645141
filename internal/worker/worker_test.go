package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
)

type captureStore struct {
	mu       sync.Mutex
	readings []domain.SensorReading
	batches  int
}

func (c *captureStore) InsertBatch(_ context.Context, readings []domain.SensorReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, readings...)
	c.batches++
	return nil
}

func (c *captureStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readings)
}

func TestWriterDrainsMockBusIntoStore(t *testing.T) {
	routes := transport.DefaultTopicRoutes()
	bus := transport.NewMockPublisher(routes)
	consumer := transport.NewMockConsumer(bus)

	store := &captureStore{}
	w := NewWriter(store, Config{Workers: 2, BatchSize: 2, FlushInterval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.StartConsumer(ctx, consumer)
	}()

	payload := []byte(`{"device_id":12,"sensor_type":"temperature","value":20.5,` +
		`"latitude":1.0,"longitude":2.0,"timestamp":"2026-03-01T12:00:00Z"}`)
	for i := 0; i < 4; i++ {
		_, err := bus.Publish(ctx, "sensor-temperature", payload)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return store.total() == 4 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	r := store.readings[0]
	assert.Equal(t, int64(12), r.DeviceID)
	assert.Equal(t, domain.SensorTemperature, r.SensorType)
	assert.Equal(t, 20.5, r.Value)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), r.Timestamp.UTC())
}

func TestWriterDropsUndecodableMessages(t *testing.T) {
	store := &captureStore{}
	w := NewWriter(store, Config{Workers: 1, BatchSize: 1, FlushInterval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := make(chan []byte, 2)
	feed <- []byte(`not json`)
	feed <- []byte(`{"device_id":1,"sensor_type":"ndir","value":400,"timestamp":"2026-03-01T00:00:00Z"}`)
	close(feed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, func(ctx context.Context, handler func([]byte) error) error {
			for p := range feed {
				if err := handler(p); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	require.Eventually(t, func() bool { return store.total() == 1 },
		2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestWriterFlushesRemainderOnShutdown(t *testing.T) {
	store := &captureStore{}
	// Batch size larger than the message count: only the shutdown flush
	// can deliver these.
	w := NewWriter(store, Config{Workers: 1, BatchSize: 100, FlushInterval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())

	bus := transport.NewMockPublisher(transport.DefaultTopicRoutes())
	consumer := transport.NewMockConsumer(bus)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.StartConsumer(ctx, consumer)
	}()

	payload := []byte(`{"device_id":3,"sensor_type":"humidity","value":55,` +
		`"latitude":0,"longitude":0,"timestamp":"2026-03-01T12:00:00Z"}`)
	_, err := bus.Publish(ctx, "sensor-humidity", payload)
	require.NoError(t, err)

	// Give the worker a moment to pull the message into its batch.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, store.total())
}
