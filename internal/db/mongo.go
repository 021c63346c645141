// Package db implements the time-series store on MongoDB. It renders
// compiled query pipelines and executes them against the measurement
// collection; the query engine never sees the driver types beyond rows.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/query"
)

const (
	collectionName = "sensor_measurements"
	opTimeout      = 30 * time.Second
)

// Connect opens a client and verifies connectivity with a short ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("MongoDB ping failed: %w", err)
	}

	return client, nil
}

// MongoStore is the production time-series store.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     zerolog.Logger
}

// NewMongoStore sets up the measurement collection (time-series options,
// scan indexes) and returns a store over it.
func NewMongoStore(ctx context.Context, client *mongo.Client, database string, logger zerolog.Logger) (*MongoStore, error) {
	db := client.Database(database)

	setupCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tsOptions := options.CreateCollection().SetTimeSeriesOptions(
		options.TimeSeries().
			SetTimeField(query.FieldTimestamp).
			SetMetaField(query.FieldDeviceID).
			SetGranularity("seconds"),
	)
	// Collection may already exist; index builds below are idempotent.
	_ = db.CreateCollection(setupCtx, collectionName, tsOptions)

	collection := db.Collection(collectionName)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{
			{Key: query.FieldDeviceID, Value: 1},
			{Key: query.FieldTimestamp, Value: 1},
		}},
		{Keys: bson.D{
			{Key: query.FieldSensorType, Value: 1},
			{Key: query.FieldTimestamp, Value: 1},
		}},
	}
	if _, err := collection.Indexes().CreateMany(setupCtx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "mongo_store").Logger(),
	}, nil
}

// Run renders and executes one compiled pipeline, returning its flat rows.
func (s *MongoStore) Run(ctx context.Context, p query.Pipeline) ([]bson.M, error) {
	runCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.collection.Aggregate(runCtx, p.Render())
	if err != nil {
		return nil, fmt.Errorf("aggregate %q: %w", p.Tag, err)
	}
	defer cursor.Close(runCtx)

	var rows []bson.M
	if err := cursor.All(runCtx, &rows); err != nil {
		return nil, fmt.Errorf("decode %q: %w", p.Tag, err)
	}

	return rows, nil
}

// InsertBatch writes a batch of readings; used by the store-writer worker.
func (s *MongoStore) InsertBatch(ctx context.Context, readings []domain.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	docs := make([]any, len(readings))
	for i, r := range readings {
		docs[i] = r
	}

	insertCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.collection.InsertMany(insertCtx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// HealthInfo reports store connectivity for the health endpoint.
type HealthInfo struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *MongoStore) Health(ctx context.Context) HealthInfo {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return HealthInfo{Status: "unhealthy", Error: err.Error()}
	}
	return HealthInfo{Status: "healthy"}
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
