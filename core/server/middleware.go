package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// requestLogger tags each request with an id and emits one structured line
// per request.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		logger.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// apiKeyAuth validates the X-API-Key header against the configured key
// set. An empty key set allows every request (development mode).
func apiKeyAuth(keys []string, logger zerolog.Logger) gin.HandlerFunc {
	valid := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" {
			valid[k] = true
		}
	}

	return func(c *gin.Context) {
		if len(valid) == 0 {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key, provide X-API-Key header",
			})
			return
		}

		if !valid[key] {
			prefix := key
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			logger.Warn().Str("key_prefix", prefix).Msg("invalid API key attempted")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
