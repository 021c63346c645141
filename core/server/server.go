// Package server assembles the gateway: HTTP surface, publish pipeline,
// historical query engine and the optional store-writer worker, all wired
// once at startup and injected into the request handlers.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/internal/history"
	"github.com/EgorkaKv/sensor-gate/internal/metrics"
	"github.com/EgorkaKv/sensor-gate/internal/publisher"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
	"github.com/EgorkaKv/sensor-gate/internal/worker"
)

// Server is the assembled gateway.
type Server struct {
	config   *ServerConfig
	pipeline *publisher.Pipeline
	engine   *history.Engine
	writer   *worker.Writer
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	router   *gin.Engine
	logger   zerolog.Logger
}

// NewServer builds the gateway from options. Options are applied in order;
// pass WithLogger and WithWriter before the transport option they affect.
func NewServer(options ...ConfigOption) (*Server, error) {
	config := &ServerConfig{
		Port:   "8080",
		Logger: zerolog.Nop(),
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return nil, err
		}
	}

	if config.Transport == nil {
		if err := WithMockTransport()(config); err != nil {
			return nil, err
		}
	}
	if config.Store == nil {
		return nil, errors.New("server requires a time-series store")
	}

	if config.RunWriter && config.Consumer == nil {
		if mock, ok := config.Transport.(*transport.MockPublisher); ok {
			config.Consumer = transport.NewMockConsumer(mock)
		} else {
			return nil, errors.New("writer enabled but transport provides no consumer")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		pipeline: publisher.New(config.Transport, publisher.Config{
			Breaker: config.Breaker,
			Retry:   config.Retry,
			Direct:  config.MockTransport,
		}, m, config.Logger),
		engine:   history.NewEngine(config.Store, m, config.Logger),
		metrics:  m,
		registry: registry,
		router:   gin.New(),
		logger:   config.Logger.With().Str("component", "server").Logger(),
	}

	if config.RunWriter {
		s.writer = worker.NewWriter(config.Store, config.Worker, config.Logger)
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.Use(apiKeyAuth(s.config.APIKeys, s.logger))
	{
		api.POST("/sensors/data", s.handleSubmit)
		api.GET("/sensors/types", s.handleSensorTypes)

		api.GET("/sensors/history", s.handleHistory)
		api.GET("/sensors/history/aggregated", s.handleAggregated)
		api.GET("/sensors/history/by-sensor-type/:sensor_type", s.handleHistoryBySensorType)

		api.GET("/devices", s.handleDevices)
		api.GET("/sensors/stats", s.handleSensorStats)
	}

	debug := s.router.Group("/debug")
	debug.Use(apiKeyAuth(s.config.APIKeys, s.logger))
	{
		debug.GET("/transport/messages", s.handleDebugMessages)
		debug.GET("/transport/stats", s.handleDebugStats)
		debug.DELETE("/transport/messages", s.handleDebugClear)
	}
}

// Start serves HTTP until ctx is cancelled, running the store-writer
// worker alongside when configured.
func (s *Server) Start(ctx context.Context) error {
	if s.writer != nil {
		go func() {
			if err := s.writer.StartConsumer(ctx, s.config.Consumer); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("store writer stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("port", s.config.Port).Msg("server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the transport and store.
func (s *Server) Close() error {
	var errs []error
	if s.config.Consumer != nil {
		errs = append(errs, s.config.Consumer.Close())
	}
	if s.config.Transport != nil {
		errs = append(errs, s.config.Transport.Close())
	}
	if s.config.Store != nil {
		errs = append(errs, s.config.Store.Close())
	}
	return errors.Join(errs...)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// mockTransport returns the mock publisher when the server runs on it.
func (s *Server) mockTransport() (*transport.MockPublisher, bool) {
	mock, ok := s.config.Transport.(*transport.MockPublisher)
	return mock, ok
}

func (s *Server) handleHealth(c *gin.Context) {
	transportHealth := s.config.Transport.Health(c.Request.Context())
	storeHealth := s.config.Store.Health(c.Request.Context())

	status := "healthy"
	if transportHealth.Status != transport.StatusHealthy || storeHealth.Status != "healthy" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"service":   "sensor-gate",
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"transport": gin.H{
				"status":                transportHealth.Status,
				"metadata":              transportHealth.Metadata,
				"circuit_breaker_state": s.pipeline.BreakerState().String(),
			},
			"store": storeHealth,
		},
		"config": gin.H{
			"supported_sensor_types": sensorTypeNames(),
			"debug_mode":             s.config.Debug,
		},
	})
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   "sensor-gate",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDebugMessages(c *gin.Context) {
	mock, ok := s.requireMock(c)
	if !ok {
		return
	}

	topic := c.Query("topic")
	c.JSON(http.StatusOK, gin.H{
		"messages": mock.Messages(topic),
		"stats":    mock.Stats(),
	})
}

func (s *Server) handleDebugStats(c *gin.Context) {
	mock, ok := s.requireMock(c)
	if !ok {
		return
	}

	stats := mock.Stats()
	for topic, depth := range stats.MessagesPerTopic {
		s.metrics.MockBufferDepth.WithLabelValues(topic).Set(float64(depth))
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
		"configuration": gin.H{
			"debug_mode":    s.config.Debug,
			"topic_mapping": s.config.Routes,
		},
	})
}

func (s *Server) handleDebugClear(c *gin.Context) {
	mock, ok := s.requireMock(c)
	if !ok {
		return
	}

	topic := c.Query("topic")
	mock.Clear(topic)

	c.JSON(http.StatusOK, gin.H{
		"message": "mock messages cleared",
		"topic":   topic,
	})
}

// requireMock gates the debug endpoints: 404 outside debug mode, 503 when
// the gateway runs on the real transport.
func (s *Server) requireMock(c *gin.Context) (*transport.MockPublisher, bool) {
	if !s.config.Debug {
		c.JSON(http.StatusNotFound, gin.H{"error": "debug endpoints are only available in debug mode"})
		return nil, false
	}

	mock, ok := s.mockTransport()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mock transport is not enabled"})
		return nil, false
	}
	return mock, true
}

func sensorTypeNames() []string {
	names := make([]string, 0, 3)
	for _, st := range sensorTypeCatalog {
		names = append(names, st.Type)
	}
	return names
}
