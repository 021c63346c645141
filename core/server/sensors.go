package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// sensorTypeInfo describes one supported sensor type for the catalog
// endpoint.
type sensorTypeInfo struct {
	Type        string  `json:"type"`
	Unit        string  `json:"unit"`
	MinValue    float64 `json:"min_value"`
	MaxValue    float64 `json:"max_value"`
	Description string  `json:"description"`
}

var sensorTypeCatalog = buildSensorTypeCatalog()

func buildSensorTypeCatalog() []sensorTypeInfo {
	descriptions := map[domain.SensorType]string{
		domain.SensorTemperature: "ambient temperature",
		domain.SensorHumidity:    "relative humidity",
		domain.SensorNDIR:        "CO2 concentration measured by NDIR sensor",
	}

	catalog := make([]sensorTypeInfo, 0, len(domain.SensorTypes))
	for _, st := range domain.SensorTypes {
		min, max, unit := st.ValueRange()
		catalog = append(catalog, sensorTypeInfo{
			Type:        st.String(),
			Unit:        unit,
			MinValue:    min,
			MaxValue:    max,
			Description: descriptions[st],
		})
	}
	return catalog
}

func (s *Server) handleSubmit(c *gin.Context) {
	var reading domain.SensorReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := reading.Validate(time.Now().UTC()); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "validation failed",
				"field": verr.Field,
				"detail": gin.H{
					"reason": verr.Reason,
				},
			})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	messageID, err := s.pipeline.Submit(c.Request.Context(), reading)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnmappedSensorType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrPublishUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "message bus temporarily unavailable, try again later",
				"detail": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish sensor data"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":       "accepted",
		"message_id":   messageID,
		"device_id":    reading.DeviceID,
		"sensor_type":  reading.SensorType,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSensorTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sensor_types": sensorTypeCatalog,
		"count":        len(sensorTypeCatalog),
	})
}
