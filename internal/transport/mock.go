package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// defaultMockCapacity bounds each per-topic buffer so a long-running dev
// instance cannot grow without limit.
const defaultMockCapacity = 1000

// MockMessage is one message retained by the mock bus.
type MockMessage struct {
	MessageID string    `json:"message_id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// MockStats summarizes mock bus usage for the debug endpoints.
type MockStats struct {
	TotalMessages    int            `json:"total_messages"`
	TopicsCount      int            `json:"topics_count"`
	MessagesPerTopic map[string]int `json:"messages_per_topic"`
	MessageCounter   uint64         `json:"message_counter"`
	Capacity         int            `json:"max_messages_per_topic"`
}

// MockPublisher is an in-memory Publisher for local development and tests.
// Publishing always succeeds synchronously; each topic keeps a FIFO buffer
// capped at Capacity, evicting the oldest message on overflow.
type MockPublisher struct {
	routes   TopicRoutes
	capacity int

	mu       sync.Mutex
	buffers  map[string][]MockMessage
	counter  uint64
	watchers []chan []byte
}

// NewMockPublisher builds a mock bus over the given routes.
func NewMockPublisher(routes TopicRoutes) *MockPublisher {
	return &MockPublisher{
		routes:   routes,
		capacity: defaultMockCapacity,
		buffers:  make(map[string][]MockMessage),
	}
}

func (m *MockPublisher) ResolveTopic(sensorType domain.SensorType) (string, error) {
	return m.routes.Resolve(sensorType)
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	id := fmt.Sprintf("mock-msg-%d-%d", time.Now().Unix(), m.counter)

	buf := m.buffers[topic]
	if len(buf) >= m.capacity {
		buf = buf[1:]
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	m.buffers[topic] = append(buf, MockMessage{
		MessageID: id,
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	})

	for _, w := range m.watchers {
		select {
		case w <- data:
		default: // slow watcher, drop rather than block the publish path
		}
	}

	return id, nil
}

func (m *MockPublisher) Health(context.Context) Health {
	stats := m.Stats()

	return Health{
		Status: StatusHealthy,
		Metadata: map[string]any{
			"type":             "mock",
			"available_topics": m.routes.Topics(),
			"total_messages":   stats.TotalMessages,
		},
	}
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.watchers {
		close(w)
	}
	m.watchers = nil

	return nil
}

// Messages returns retained messages, optionally restricted to one topic.
// Debug introspection only; not on the production data path.
func (m *MockPublisher) Messages(topic string) map[string][]MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]MockMessage)
	if topic != "" {
		out[topic] = append([]MockMessage(nil), m.buffers[topic]...)
		return out
	}

	for t, msgs := range m.buffers {
		out[t] = append([]MockMessage(nil), msgs...)
	}
	return out
}

// Clear drops retained messages for one topic, or all topics when empty.
func (m *MockPublisher) Clear(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if topic != "" {
		delete(m.buffers, topic)
		return
	}
	m.buffers = make(map[string][]MockMessage)
}

// Stats reports buffer usage across topics.
func (m *MockPublisher) Stats() MockStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	perTopic := make(map[string]int, len(m.buffers))
	total := 0
	for t, msgs := range m.buffers {
		perTopic[t] = len(msgs)
		total += len(msgs)
	}

	return MockStats{
		TotalMessages:    total,
		TopicsCount:      len(m.buffers),
		MessagesPerTopic: perTopic,
		MessageCounter:   m.counter,
		Capacity:         m.capacity,
	}
}

// MockConsumer feeds every subsequently published payload to a handler, so
// the store-writer worker can run against the mock bus.
type MockConsumer struct {
	pub *MockPublisher
	ch  chan []byte
}

// NewMockConsumer registers a watcher on the publisher.
func NewMockConsumer(pub *MockPublisher) *MockConsumer {
	ch := make(chan []byte, 256)

	pub.mu.Lock()
	pub.watchers = append(pub.watchers, ch)
	pub.mu.Unlock()

	return &MockConsumer{pub: pub, ch: ch}
}

func (c *MockConsumer) Consume(ctx context.Context, handler func(payload []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-c.ch:
			if !ok {
				return nil
			}
			if err := handler(payload); err != nil {
				return err
			}
		}
	}
}

func (c *MockConsumer) Close() error { return nil }
