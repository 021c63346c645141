package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/internal/breaker"
	"github.com/EgorkaKv/sensor-gate/internal/db"
	"github.com/EgorkaKv/sensor-gate/internal/history"
	"github.com/EgorkaKv/sensor-gate/internal/retry"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
	"github.com/EgorkaKv/sensor-gate/internal/worker"
)

// StoreHealth is implemented by stores that can report connectivity.
type StoreHealth interface {
	Health(ctx context.Context) db.HealthInfo
}

// Store is everything the server wires against the time-series backend.
type Store interface {
	history.Store
	worker.Inserter
	StoreHealth
	Close() error
}

// ServerConfig assembles the gateway's collaborators. Populated once at
// startup through options; immutable afterwards.
type ServerConfig struct {
	Transport transport.Publisher
	Consumer  transport.Consumer
	Store     Store

	Routes  transport.TopicRoutes
	Breaker breaker.Config
	Retry   retry.Config
	Worker  worker.Config

	// MockTransport marks the transport as the in-memory mock: the
	// publish pipeline skips breaker and retry, and the debug
	// introspection endpoints become available.
	MockTransport bool

	// RunWriter starts the store-writer worker bridging bus to store.
	RunWriter bool

	Port    string
	APIKeys []string
	Debug   bool

	Logger zerolog.Logger
}

// ConfigOption mutates the server configuration during construction.
type ConfigOption func(*ServerConfig) error

// WithKafka connects the real bus transport.
func WithKafka(cfg transport.KafkaConfig) ConfigOption {
	return func(c *ServerConfig) error {
		pub, err := transport.NewKafkaPublisher(cfg, c.routes(), c.Logger)
		if err != nil {
			return err
		}
		c.Transport = pub

		if c.RunWriter {
			consumer, err := transport.NewKafkaConsumer(cfg, c.routes(), c.Logger)
			if err != nil {
				return err
			}
			c.Consumer = consumer
		}
		return nil
	}
}

// WithMockTransport installs the in-memory bus used for local development
// and tests.
func WithMockTransport() ConfigOption {
	return func(c *ServerConfig) error {
		mock := transport.NewMockPublisher(c.routes())
		c.Transport = mock
		c.MockTransport = true
		if c.RunWriter {
			c.Consumer = transport.NewMockConsumer(mock)
		}
		return nil
	}
}

// WithMongo connects the MongoDB time-series store.
func WithMongo(ctx context.Context, uri, database string) ConfigOption {
	return func(c *ServerConfig) error {
		client, err := db.Connect(ctx, uri)
		if err != nil {
			return err
		}
		store, err := db.NewMongoStore(ctx, client, database, c.Logger)
		if err != nil {
			return err
		}
		c.Store = store
		return nil
	}
}

// WithStore injects a pre-built store; test seam.
func WithStore(s Store) ConfigOption {
	return func(c *ServerConfig) error {
		c.Store = s
		return nil
	}
}

// WithTopicRoutes overrides the sensor-type to topic mapping.
func WithTopicRoutes(routes transport.TopicRoutes) ConfigOption {
	return func(c *ServerConfig) error {
		c.Routes = routes
		return nil
	}
}

// WithBreaker sets the circuit breaker thresholds.
func WithBreaker(cfg breaker.Config) ConfigOption {
	return func(c *ServerConfig) error {
		c.Breaker = cfg
		return nil
	}
}

// WithRetry sets the publish retry bounds.
func WithRetry(cfg retry.Config) ConfigOption {
	return func(c *ServerConfig) error {
		c.Retry = cfg
		return nil
	}
}

// WithWriter enables the store-writer worker with the given pool sizing.
func WithWriter(cfg worker.Config) ConfigOption {
	return func(c *ServerConfig) error {
		c.RunWriter = true
		c.Worker = cfg
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port string) ConfigOption {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithAPIKeys configures the accepted X-API-Key values. No keys means
// open access (development mode).
func WithAPIKeys(keys []string) ConfigOption {
	return func(c *ServerConfig) error {
		c.APIKeys = keys
		return nil
	}
}

// WithDebug enables debug mode and the mock introspection endpoints.
func WithDebug(debug bool) ConfigOption {
	return func(c *ServerConfig) error {
		c.Debug = debug
		return nil
	}
}

// WithLogger sets the root logger components derive from.
func WithLogger(logger zerolog.Logger) ConfigOption {
	return func(c *ServerConfig) error {
		c.Logger = logger
		return nil
	}
}

func (c *ServerConfig) routes() transport.TopicRoutes {
	if c.Routes == nil {
		c.Routes = transport.DefaultTopicRoutes()
	}
	return c.Routes
}
