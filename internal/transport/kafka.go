package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// KafkaConfig configures the real bus client.
type KafkaConfig struct {
	Brokers        string
	GroupID        string
	PublishTimeout time.Duration
}

// KafkaPublisher publishes readings to Kafka, one topic per sensor type.
type KafkaPublisher struct {
	producer *kafka.Producer
	routes   TopicRoutes
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewKafkaPublisher connects a producer to the configured brokers.
func NewKafkaPublisher(cfg KafkaConfig, routes TopicRoutes, logger zerolog.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "all",
		"retries":           0, // retry policy is the gateway's, not librdkafka's
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &KafkaPublisher{
		producer: producer,
		routes:   routes,
		timeout:  timeout,
		logger:   logger.With().Str("component", "kafka_publisher").Logger(),
	}, nil
}

func (k *KafkaPublisher) ResolveTopic(sensorType domain.SensorType) (string, error) {
	return k.routes.Resolve(sensorType)
}

// Publish sends payload to topic and waits for the broker delivery report.
// The wait is bounded by the configured publish timeout; hitting it is
// reported as a deadline-exceeded transient failure since the attempt was
// already dispatched.
func (k *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	deliveryChan := make(chan kafka.Event, 1)

	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Value: payload,
	}, deliveryChan)
	if err != nil {
		return "", classifyKafkaError(err)
	}

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case e := <-deliveryChan:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return "", domain.NewTransientError(domain.TransientInternal,
				fmt.Errorf("unexpected delivery event %T", e))
		}
		if msg.TopicPartition.Error != nil {
			return "", classifyKafkaError(msg.TopicPartition.Error)
		}
		return fmt.Sprintf("%s[%d]@%d", topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset), nil

	case <-timer.C:
		return "", domain.NewTransientError(domain.TransientDeadlineExceeded,
			fmt.Errorf("no delivery report within %s", k.timeout))

	case <-ctx.Done():
		return "", domain.NewTransientError(domain.TransientDeadlineExceeded, ctx.Err())
	}
}

func (k *KafkaPublisher) Health(context.Context) Health {
	meta, err := k.producer.GetMetadata(nil, true, int(k.timeout.Milliseconds()))
	if err != nil {
		return Health{
			Status:   StatusUnhealthy,
			Metadata: map[string]any{"type": "kafka", "error": err.Error()},
		}
	}

	return Health{
		Status: StatusHealthy,
		Metadata: map[string]any{
			"type":             "kafka",
			"brokers":          len(meta.Brokers),
			"available_topics": k.routes.Topics(),
		},
	}
}

func (k *KafkaPublisher) Close() error {
	k.producer.Flush(int(k.timeout.Milliseconds()))
	k.producer.Close()
	return nil
}

// classifyKafkaError maps librdkafka error codes onto the gateway's
// transient taxonomy. Anything not recognized propagates as-is and is not
// retried.
func classifyKafkaError(err error) error {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return err
	}

	switch kerr.Code() {
	case kafka.ErrTimedOut, kafka.ErrMsgTimedOut, kafka.ErrRequestTimedOut:
		return domain.NewTransientError(domain.TransientDeadlineExceeded, err)
	case kafka.ErrTransport, kafka.ErrAllBrokersDown, kafka.ErrBrokerNotAvailable,
		kafka.ErrLeaderNotAvailable, kafka.ErrNotEnoughReplicas, kafka.ErrQueueFull:
		return domain.NewTransientError(domain.TransientServiceUnavailable, err)
	case kafka.ErrUnknown:
		return domain.NewTransientError(domain.TransientInternal, err)
	}

	if kerr.IsRetriable() {
		return domain.NewTransientError(domain.TransientServiceUnavailable, err)
	}

	return err
}

// KafkaConsumer drains the sensor topics for the store-writer worker.
type KafkaConsumer struct {
	consumer *kafka.Consumer
	topics   []string
	logger   zerolog.Logger
}

// NewKafkaConsumer joins the configured consumer group subscribed to every
// sensor topic.
func NewKafkaConsumer(cfg KafkaConfig, routes TopicRoutes, logger zerolog.Logger) (*KafkaConsumer, error) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "sensor-gate-writer"
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"group.id":          groupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &KafkaConsumer{
		consumer: consumer,
		topics:   routes.Topics(),
		logger:   logger.With().Str("component", "kafka_consumer").Logger(),
	}, nil
}

func (c *KafkaConsumer) Consume(ctx context.Context, handler func(payload []byte) error) error {
	if err := c.consumer.SubscribeTopics(c.topics, nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				return err
			}

			if err := handler(msg.Value); err != nil {
				c.logger.Error().Err(err).
					Str("topic", *msg.TopicPartition.Topic).
					Msg("failed to process message")
			}
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
