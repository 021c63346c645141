package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/EgorkaKv/sensor-gate/internal/db"
	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/query"
	"github.com/EgorkaKv/sensor-gate/internal/transport"
)

// fakeStore answers pipelines by tag and records inserted batches.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]bson.M
	runErr   error
	inserted [][]domain.SensorReading
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]bson.M)}
}

func (f *fakeStore) Run(_ context.Context, p query.Pipeline) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.rows[p.Tag], nil
}

func (f *fakeStore) InsertBatch(_ context.Context, readings []domain.SensorReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, readings)
	return nil
}

func (f *fakeStore) Health(context.Context) db.HealthInfo {
	return db.HealthInfo{Status: "healthy"}
}

func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, extra ...ConfigOption) (*Server, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	options := append([]ConfigOption{
		WithStore(store),
		WithMockTransport(),
		WithDebug(true),
	}, extra...)

	srv, err := NewServer(options...)
	require.NoError(t, err)
	return srv, store
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestSubmitAcceptsValidReading(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/sensors/data", map[string]any{
		"device_id":   12345,
		"sensor_type": "temperature",
		"value":       23.5,
		"latitude":    52.52,
		"longitude":   13.405,
		"timestamp":   "2026-03-01T12:00:00Z",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(12345), resp["device_id"])
	assert.Equal(t, "temperature", resp["sensor_type"])
	assert.NotEmpty(t, resp["message_id"])
	assert.NotEmpty(t, resp["processed_at"])

	mock, ok := srv.mockTransport()
	require.True(t, ok)
	assert.Equal(t, 1, mock.Stats().TotalMessages)
}

func TestSubmitRejectsOutOfRangeValue(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/sensors/data", map[string]any{
		"device_id":   12345,
		"sensor_type": "temperature",
		"value":       2000.0,
		"latitude":    52.52,
		"longitude":   13.405,
		"timestamp":   "2026-03-01T12:00:00Z",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "value", resp["field"])

	mock, _ := srv.mockTransport()
	assert.Equal(t, 0, mock.Stats().TotalMessages, "rejected reading must not reach the bus")
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sensors/data", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSensorTypesCatalog(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/v1/sensors/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SensorTypes []sensorTypeInfo `json:"sensor_types"`
		Count       int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)

	byType := make(map[string]sensorTypeInfo)
	for _, st := range resp.SensorTypes {
		byType[st.Type] = st
	}
	assert.Equal(t, 100.0, byType["humidity"].MaxValue)
	assert.Equal(t, -273.15, byType["temperature"].MinValue)
	assert.Equal(t, "ppm", byType["ndir"].Unit)
}

func TestHistoryRejectsInvertedRangeBeforeStore(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(srv, http.MethodGet,
		"/api/v1/sensors/history?start_time=2026-03-02T00:00:00Z&end_time=2026-03-02T00:00:00Z", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, store.calls, "invalid filters must fail before any store access")
}

func TestHistoryRequiresTimeRange(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/v1/sensors/history", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, store.calls)
}

func TestHistoryReturnsMappedRows(t *testing.T) {
	srv, store := newTestServer(t)
	store.rows[""] = []bson.M{
		{
			"timestamp":   mustTime(t, "2026-03-01T10:00:00Z"),
			"device_id":   int64(7),
			"sensor_type": "humidity",
			"value":       55.5,
			"latitude":    1.0,
			"longitude":   2.0,
		},
	}

	rec := doRequest(srv, http.MethodGet,
		"/api/v1/sensors/history?start_time=2026-03-01T00:00:00Z&end_time=2026-03-02T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data  []domain.HistoricalDataPoint `json:"data"`
		Count int                          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, int64(7), resp.Data[0].DeviceID)
	assert.Equal(t, domain.SensorHumidity, resp.Data[0].SensorType)
}

func TestHistoryBySensorTypePinsPathType(t *testing.T) {
	srv, store := newTestServer(t)
	store.rows[""] = nil

	rec := doRequest(srv, http.MethodGet,
		"/api/v1/sensors/history/by-sensor-type/ndir?start_time=2026-03-01T00:00:00Z&end_time=2026-03-02T00:00:00Z&sensor_type=temperature", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ndir", resp["sensor_type"])
}

func TestHistoryBySensorTypeRejectsUnknownType(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(srv, http.MethodGet,
		"/api/v1/sensors/history/by-sensor-type/pressure?start_time=2026-03-01T00:00:00Z&end_time=2026-03-02T00:00:00Z", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, store.calls)
}

func TestAggregatedQueryFailureReturns500(t *testing.T) {
	srv, store := newTestServer(t)
	store.runErr = fmt.Errorf("connection reset")

	rec := doRequest(srv, http.MethodGet,
		"/api/v1/sensors/history/aggregated?start_time=2026-03-01T00:00:00Z&end_time=2026-03-02T00:00:00Z", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthReportsChecks(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Checks struct {
			Transport struct {
				Status              string `json:"status"`
				CircuitBreakerState string `json:"circuit_breaker_state"`
			} `json:"transport"`
			Store struct {
				Status string `json:"status"`
			} `json:"store"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, transport.StatusHealthy, resp.Checks.Transport.Status)
	assert.Equal(t, "CLOSED", resp.Checks.Transport.CircuitBreakerState)
	assert.Equal(t, "healthy", resp.Checks.Store.Status)
}

func TestDebugEndpointsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	submit := doRequest(srv, http.MethodPost, "/api/v1/sensors/data", map[string]any{
		"device_id":   1,
		"sensor_type": "ndir",
		"value":       400.0,
		"latitude":    0.0,
		"longitude":   0.0,
		"timestamp":   "2026-03-01T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, submit.Code)

	stats := doRequest(srv, http.MethodGet, "/debug/transport/stats", nil)
	require.Equal(t, http.StatusOK, stats.Code)

	var statsResp struct {
		Stats transport.MockStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &statsResp))
	assert.Equal(t, 1, statsResp.Stats.TotalMessages)
	assert.Equal(t, 1, statsResp.Stats.MessagesPerTopic["sensor-ndir"])

	messages := doRequest(srv, http.MethodGet, "/debug/transport/messages?topic=sensor-ndir", nil)
	require.Equal(t, http.StatusOK, messages.Code)

	cleared := doRequest(srv, http.MethodDelete, "/debug/transport/messages", nil)
	require.Equal(t, http.StatusOK, cleared.Code)

	after := doRequest(srv, http.MethodGet, "/debug/transport/stats", nil)
	require.NoError(t, json.Unmarshal(after.Body.Bytes(), &statsResp))
	assert.Equal(t, 0, statsResp.Stats.TotalMessages)
}

func TestDebugEndpointsHiddenOutsideDebugMode(t *testing.T) {
	store := newFakeStore()
	srv, err := NewServer(WithStore(store), WithMockTransport(), WithDebug(false))
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/debug/transport/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyAuthGuardsAPIRoutes(t *testing.T) {
	srv, _ := newTestServer(t, WithAPIKeys([]string{"secret-key"}))

	rec := doRequest(srv, http.MethodGet, "/api/v1/sensors/types", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/types", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)

	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/types", nil)
	req3.Header.Set("X-API-Key", "secret-key")
	rec3 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec3, req3)
	assert.Equal(t, http.StatusOK, rec3.Code)

	health := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, health.Code, "health stays unauthenticated")
}

func TestMetricsEndpointServes(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
