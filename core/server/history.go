package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// parseHistoryParams decodes the shared query-string filters. Bound and
// range checks live in HistoryQueryParams.Validate; this layer only rejects
// values it cannot parse at all.
func parseHistoryParams(c *gin.Context) (domain.HistoryQueryParams, error) {
	var params domain.HistoryQueryParams

	start, err := parseTimeParam(c, "start_time")
	if err != nil {
		return params, err
	}
	end, err := parseTimeParam(c, "end_time")
	if err != nil {
		return params, err
	}
	params.Start = start
	params.End = end

	if raw := c.Query("sensor_type"); raw != "" {
		st, ok := domain.ParseSensorType(raw)
		if !ok {
			return params, domain.NewValidationError("sensor_type", "must be one of: temperature, humidity, ndir")
		}
		params.SensorType = &st
	}

	if raw := c.Query("device_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return params, domain.NewValidationError("device_id", "must be an integer")
		}
		params.DeviceID = &id
	}

	bounds := []struct {
		name string
		dst  **float64
	}{
		{"latitude_min", &params.LatitudeMin},
		{"latitude_max", &params.LatitudeMax},
		{"longitude_min", &params.LongitudeMin},
		{"longitude_max", &params.LongitudeMax},
	}
	for _, b := range bounds {
		raw := c.Query(b.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, domain.NewValidationError(b.name, "must be a number")
		}
		*b.dst = &v
	}

	params.Aggregation = domain.NormalizeAggregation(c.Query("aggregation"))

	return params, nil
}

func parseTimeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, domain.NewValidationError(name, "is required, RFC 3339 format")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError(name, "must be a valid RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func (s *Server) handleHistory(c *gin.Context) {
	params, err := parseHistoryParams(c)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	result, err := s.engine.History(c.Request.Context(), params)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":              result.Data,
		"count":             len(result.Data),
		"start_time":        params.Start.Format(time.RFC3339),
		"end_time":          params.End.Format(time.RFC3339),
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
	})
}

func (s *Server) handleAggregated(c *gin.Context) {
	params, err := parseHistoryParams(c)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	result, err := s.engine.Aggregated(c.Request.Context(), params)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":              result.Data,
		"group_count":       len(result.Data),
		"total_count":       result.TotalCount,
		"aggregation":       params.Aggregation,
		"start_time":        params.Start.Format(time.RFC3339),
		"end_time":          params.End.Format(time.RFC3339),
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
	})
}

// handleHistoryBySensorType is a convenience route pinning the sensor type
// from the path; any sensor_type query parameter is ignored.
func (s *Server) handleHistoryBySensorType(c *gin.Context) {
	st, ok := domain.ParseSensorType(c.Param("sensor_type"))
	if !ok {
		writeQueryError(c, domain.NewValidationError("sensor_type", "must be one of: temperature, humidity, ndir"))
		return
	}

	params, err := parseHistoryParams(c)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	params.SensorType = &st

	result, err := s.engine.History(c.Request.Context(), params)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":              result.Data,
		"count":             len(result.Data),
		"sensor_type":       st,
		"start_time":        params.Start.Format(time.RFC3339),
		"end_time":          params.End.Format(time.RFC3339),
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
	})
}

func (s *Server) handleDevices(c *gin.Context) {
	var sensorType *domain.SensorType
	if raw := c.Query("sensor_type"); raw != "" {
		st, ok := domain.ParseSensorType(raw)
		if !ok {
			writeQueryError(c, domain.NewValidationError("sensor_type", "must be one of: temperature, humidity, ndir"))
			return
		}
		sensorType = &st
	}

	result, err := s.engine.Devices(c.Request.Context(), sensorType)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":           result.Devices,
		"count":             len(result.Devices),
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
	})
}

func (s *Server) handleSensorStats(c *gin.Context) {
	result, err := s.engine.SensorTypeStats(c.Request.Context())
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":             result.Stats,
		"count":             len(result.Stats),
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
	})
}

// writeQueryError translates query-layer errors to HTTP statuses. Bad
// filters never reach the store and report 422; store failures report 500
// without leaking backend detail beyond the error chain.
func writeQueryError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrQueryValidation), errors.As(err, &verr):
		body := gin.H{"error": err.Error()}
		if verr != nil {
			body["field"] = verr.Field
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, domain.ErrQueryExecution):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "historical query failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
