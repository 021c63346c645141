package domain

import (
	"time"
)

// AggregationType selects the aggregate function applied to grouped values.
type AggregationType string

const (
	AggMean  AggregationType = "mean"
	AggMin   AggregationType = "min"
	AggMax   AggregationType = "max"
	AggCount AggregationType = "count"
	AggSum   AggregationType = "sum"
	AggFirst AggregationType = "first"
	AggLast  AggregationType = "last"
)

// NormalizeAggregation maps a wire token to an AggregationType. Unknown or
// empty tokens fall back to mean; the upstream service behaved the same way
// and callers depend on it.
func NormalizeAggregation(s string) AggregationType {
	switch AggregationType(s) {
	case AggMean, AggMin, AggMax, AggCount, AggSum, AggFirst, AggLast:
		return AggregationType(s)
	}
	return AggMean
}

// HistoryQueryParams carries the typed filters for historical queries.
// All invariants are checked by Validate before any query compilation.
type HistoryQueryParams struct {
	Start        time.Time
	End          time.Time
	SensorType   *SensorType
	DeviceID     *int64
	LatitudeMin  *float64
	LatitudeMax  *float64
	LongitudeMin *float64
	LongitudeMax *float64
	Aggregation  AggregationType
}

// Validate fails fast with a *ValidationError before any store access.
func (p *HistoryQueryParams) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return NewValidationError("start_time/end_time", "are required")
	}

	if !p.End.After(p.Start) {
		return NewValidationError("end_time", "must be after start_time")
	}

	if p.DeviceID != nil && *p.DeviceID <= 0 {
		return NewValidationError("device_id", "must be a positive integer")
	}

	if err := validateBound("latitude_min", p.LatitudeMin, -90, 90); err != nil {
		return err
	}
	if err := validateBound("latitude_max", p.LatitudeMax, -90, 90); err != nil {
		return err
	}
	if err := validateBound("longitude_min", p.LongitudeMin, -180, 180); err != nil {
		return err
	}
	if err := validateBound("longitude_max", p.LongitudeMax, -180, 180); err != nil {
		return err
	}

	if p.LatitudeMin != nil && p.LatitudeMax != nil && *p.LatitudeMax <= *p.LatitudeMin {
		return NewValidationError("latitude_max", "must be greater than latitude_min")
	}
	if p.LongitudeMin != nil && p.LongitudeMax != nil && *p.LongitudeMax <= *p.LongitudeMin {
		return NewValidationError("longitude_max", "must be greater than longitude_min")
	}

	if p.Aggregation == "" {
		p.Aggregation = AggMean
	}

	return nil
}

func validateBound(field string, v *float64, min, max float64) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return NewValidationError(field, "out of range")
	}
	return nil
}

// HistoricalDataPoint is one matched measurement row.
type HistoricalDataPoint struct {
	Timestamp  time.Time  `json:"timestamp"`
	DeviceID   int64      `json:"device_id"`
	SensorType SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
}

// AggregatedDataPoint is one per-group aggregate. Count always comes from
// an independent count query joined by (sensor_type, device_id).
type AggregatedDataPoint struct {
	SensorType      SensorType      `json:"sensor_type"`
	DeviceID        *int64          `json:"device_id,omitempty"`
	AggregationType AggregationType `json:"aggregation_type"`
	Value           float64         `json:"value"`
	Count           int64           `json:"count"`
	Start           time.Time       `json:"start_time"`
	End             time.Time       `json:"end_time"`
}

// Location is a last-known device position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeviceInfo summarizes one device across its measurement history. Devices
// with no resolvable sensor types or first/last timestamps are dropped by
// the aggregation engine rather than returned partially filled.
type DeviceInfo struct {
	DeviceID          int64        `json:"device_id"`
	SensorTypes       []SensorType `json:"sensor_types"`
	FirstSeen         time.Time    `json:"first_seen"`
	LastSeen          time.Time    `json:"last_seen"`
	TotalMeasurements int64        `json:"total_measurements"`
	LastLocation      Location     `json:"last_location"`
}

// ValueStats holds min/max/mean of a value series.
type ValueStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// SensorTypeStats summarizes one sensor type over the stats lookback window.
type SensorTypeStats struct {
	SensorType        SensorType `json:"sensor_type"`
	DeviceCount       int64      `json:"device_count"`
	TotalMeasurements int64      `json:"total_measurements"`
	FirstMeasurement  time.Time  `json:"first_measurement"`
	LastMeasurement   time.Time  `json:"last_measurement"`
	ValueStats        ValueStats `json:"value_stats"`
}
