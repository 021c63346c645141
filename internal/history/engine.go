// Package history answers read queries against the time-series store: raw
// history, per-group aggregates, the device list and per-sensor-type stats.
// Sub-queries belonging to one operation run concurrently; their rows are
// correlated by composite key into unified records.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/metrics"
	"github.com/EgorkaKv/sensor-gate/internal/query"
)

// Store executes one compiled pipeline and returns its flat rows. The
// engine depends only on this contract, never on a concrete store client.
type Store interface {
	Run(ctx context.Context, p query.Pipeline) ([]bson.M, error)
}

// defaultStatsLookback is the fixed window device and sensor-type summaries
// are computed over, regardless of caller-supplied ranges.
const defaultStatsLookback = 30 * 24 * time.Hour

// Engine orchestrates the query builder and result correlation.
type Engine struct {
	store    Store
	lookback time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithLookback overrides the stats lookback window.
func WithLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// NewEngine builds a query engine over the given store.
func NewEngine(store Store, m *metrics.Metrics, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		lookback: defaultStatsLookback,
		metrics:  m,
		logger:   logger.With().Str("component", "history_engine").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HistoryResult is the raw-history answer plus its wall-clock cost.
type HistoryResult struct {
	Data          []domain.HistoricalDataPoint
	ExecutionTime time.Duration
}

// AggregatedResult carries per-group aggregates and the summed count of
// original rows they cover.
type AggregatedResult struct {
	Data          []domain.AggregatedDataPoint
	TotalCount    int64
	ExecutionTime time.Duration
}

// DevicesResult lists correlated device summaries.
type DevicesResult struct {
	Devices       []domain.DeviceInfo
	ExecutionTime time.Duration
}

// StatsResult lists per-sensor-type summaries over the lookback window.
type StatsResult struct {
	Stats         []domain.SensorTypeStats
	ExecutionTime time.Duration
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrQueryValidation, err)
}

func executionErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrQueryExecution, err)
}

// History returns matched measurements sorted by timestamp ascending.
func (e *Engine) History(ctx context.Context, params domain.HistoryQueryParams) (*HistoryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, validationErr(err)
	}

	start := e.now()
	rows, err := e.store.Run(ctx, query.Historical(params))
	if err != nil {
		return nil, executionErr(err)
	}

	points := mapHistoricalRows(rows, e.logger)
	elapsed := time.Since(start)
	e.observe("history", elapsed, len(rows)-len(points))

	return &HistoryResult{Data: points, ExecutionTime: elapsed}, nil
}

// Aggregated runs the aggregation pipeline and an independent count
// pipeline over the same base filter, joining rows by (sensor_type,
// device_id). A partial failure fails the whole operation.
func (e *Engine) Aggregated(ctx context.Context, params domain.HistoryQueryParams) (*AggregatedResult, error) {
	if err := params.Validate(); err != nil {
		return nil, validationErr(err)
	}

	start := e.now()

	var aggRows, countRows []bson.M
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		aggRows, err = e.store.Run(gctx, query.Aggregation(params, params.Aggregation))
		return err
	})
	g.Go(func() error {
		var err error
		countRows, err = e.store.Run(gctx, query.CountPipeline(params))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, executionErr(err)
	}

	points := joinAggregates(aggRows, countRows, params, e.logger)

	var total int64
	for _, p := range points {
		total += p.Count
	}

	elapsed := time.Since(start)
	e.observe("aggregated", elapsed, len(aggRows)-len(points))

	return &AggregatedResult{Data: points, TotalCount: total, ExecutionTime: elapsed}, nil
}

// Devices correlates the device facet sub-queries into DeviceInfo records,
// optionally restricted to one sensor type.
func (e *Engine) Devices(ctx context.Context, sensorType *domain.SensorType) (*DevicesResult, error) {
	start := e.now()
	end := start
	windowStart := end.Add(-e.lookback)

	tagged, err := e.runTagged(ctx, query.DeviceFacets(windowStart, end, sensorType))
	if err != nil {
		return nil, executionErr(err)
	}

	devices := foldDevices(tagged, e.logger)
	elapsed := time.Since(start)
	e.observe("devices", elapsed, 0)

	return &DevicesResult{Devices: devices, ExecutionTime: elapsed}, nil
}

// SensorTypeStats summarizes each sensor type over the fixed lookback
// window; the caller supplies no range.
func (e *Engine) SensorTypeStats(ctx context.Context) (*StatsResult, error) {
	start := e.now()
	end := start
	windowStart := end.Add(-e.lookback)

	tagged, err := e.runTagged(ctx, query.StatsFacets(windowStart, end))
	if err != nil {
		return nil, executionErr(err)
	}

	stats := foldStats(tagged, e.logger)
	elapsed := time.Since(start)
	e.observe("sensor_stats", elapsed, 0)

	return &StatsResult{Stats: stats, ExecutionTime: elapsed}, nil
}

// runTagged executes the tagged sub-pipelines concurrently and collects
// their rows per tag. The fold step waits for all of them; any failure
// aborts the whole operation with no partial results.
func (e *Engine) runTagged(ctx context.Context, pipelines []query.Pipeline) (map[string][]bson.M, error) {
	results := make([][]bson.M, len(pipelines))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		i, p := i, p
		g.Go(func() error {
			rows, err := e.store.Run(gctx, p)
			if err != nil {
				return fmt.Errorf("sub-query %q: %w", p.Tag, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tagged := make(map[string][]bson.M, len(pipelines))
	for i, p := range pipelines {
		tagged[p.Tag] = append(tagged[p.Tag], results[i]...)
	}
	return tagged, nil
}

func (e *Engine) observe(operation string, elapsed time.Duration, skipped int) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueryDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if skipped > 0 {
		e.metrics.RowsSkipped.WithLabelValues(operation).Add(float64(skipped))
	}
}
