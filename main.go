package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/EgorkaKv/sensor-gate/core/server"
	"github.com/EgorkaKv/sensor-gate/internal/breaker"
	"github.com/EgorkaKv/sensor-gate/internal/retry"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
	"github.com/EgorkaKv/sensor-gate/internal/worker"
)

func main() {
	logger := newLogger()

	transportType := envOr("TRANSPORT_TYPE", "mock") // mock, kafka
	mongoURI := envOr("MONGO_URI", "mongodb://localhost:27017")
	mongoDB := envOr("MONGO_DATABASE", "sensor_gate")
	port := envOr("PORT", "8080")
	debug := envBool("DEBUG_MODE", transportType == "mock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	options := []server.ConfigOption{
		server.WithLogger(logger),
		server.WithPort(port),
		server.WithDebug(debug),
		server.WithBreaker(breaker.Config{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  envDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
		}),
		server.WithRetry(retry.Config{
			MaxAttempts: envInt("PUBLISH_RETRY_ATTEMPTS", 3),
			BaseDelay:   envDuration("PUBLISH_RETRY_BASE_DELAY", time.Second),
			MaxDelay:    envDuration("PUBLISH_RETRY_MAX_DELAY", 10*time.Second),
		}),
	}

	if keys := envOr("API_KEYS", ""); keys != "" {
		options = append(options, server.WithAPIKeys(strings.Split(keys, ",")))
	}

	if envBool("RUN_STORE_WRITER", true) {
		options = append(options, server.WithWriter(worker.Config{
			Workers:   envInt("WRITER_WORKERS", 4),
			BatchSize: envInt("WRITER_BATCH_SIZE", 100),
		}))
	}

	switch transportType {
	case "kafka":
		options = append(options, server.WithKafka(transport.KafkaConfig{
			Brokers:        envOr("KAFKA_BROKERS", "localhost:9092"),
			GroupID:        envOr("KAFKA_GROUP_ID", "sensor-gate-writer"),
			PublishTimeout: envDuration("KAFKA_PUBLISH_TIMEOUT", 10*time.Second),
		}))
	case "mock":
		options = append(options, server.WithMockTransport())
	default:
		logger.Fatal().Str("transport", transportType).Msg("unknown TRANSPORT_TYPE, expected mock or kafka")
	}

	options = append(options, server.WithMongo(ctx, mongoURI, mongoDB))

	srv, err := server.NewServer(options...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}
	logger.Info().Msg("server shutdown complete")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "sensor-gate").
		Logger()

	if envBool("LOG_PRETTY", false) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
