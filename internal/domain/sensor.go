package domain

import (
	"time"
)

// SensorType identifies the kind of sensor that produced a reading.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorNDIR        SensorType = "ndir"
)

// SensorTypes lists every supported sensor type.
var SensorTypes = []SensorType{SensorTemperature, SensorHumidity, SensorNDIR}

// ParseSensorType converts a wire token into a SensorType.
func ParseSensorType(s string) (SensorType, bool) {
	switch SensorType(s) {
	case SensorTemperature, SensorHumidity, SensorNDIR:
		return SensorType(s), true
	}
	return "", false
}

func (t SensorType) String() string { return string(t) }

type valueRange struct {
	Min  float64
	Max  float64
	Unit string
}

var sensorValueRanges = map[SensorType]valueRange{
	SensorTemperature: {Min: -273.15, Max: 1000, Unit: "°C"},
	SensorHumidity:    {Min: 0, Max: 100, Unit: "%"},
	SensorNDIR:        {Min: 0, Max: 50000, Unit: "ppm"},
}

// ValueRange reports the valid value range and unit for a sensor type.
func (t SensorType) ValueRange() (min, max float64, unit string) {
	r := sensorValueRanges[t]
	return r.Min, r.Max, r.Unit
}

// SensorReading is a single measurement submitted by a device. Immutable
// once Validate has passed; consumed exactly once by the publish pipeline.
type SensorReading struct {
	DeviceID   int64      `json:"device_id" bson:"device_id"`
	SensorType SensorType `json:"sensor_type" bson:"sensor_type"`
	Value      float64    `json:"value" bson:"value"`
	Latitude   float64    `json:"latitude" bson:"latitude"`
	Longitude  float64    `json:"longitude" bson:"longitude"`
	Timestamp  time.Time  `json:"timestamp" bson:"timestamp"`
}

// Validate checks the reading against the per-type value range and the
// shared field invariants, returning a *ValidationError for the first
// violated field.
func (r *SensorReading) Validate(now time.Time) error {
	if r.DeviceID <= 0 {
		return NewValidationError("device_id", "must be a positive integer")
	}

	rng, ok := sensorValueRanges[r.SensorType]
	if !ok {
		return NewValidationError("sensor_type", "must be one of: temperature, humidity, ndir")
	}

	if r.Value < rng.Min || r.Value > rng.Max {
		return NewValidationError("value", "out of valid range for "+string(r.SensorType))
	}

	if r.Latitude < -90 || r.Latitude > 90 {
		return NewValidationError("latitude", "must be between -90 and 90")
	}

	if r.Longitude < -180 || r.Longitude > 180 {
		return NewValidationError("longitude", "must be between -180 and 180")
	}

	if r.Timestamp.IsZero() {
		return NewValidationError("timestamp", "is required")
	}

	if r.Timestamp.After(now) {
		return NewValidationError("timestamp", "cannot be in the future")
	}

	return nil
}
