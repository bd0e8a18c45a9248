package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id and logs it once finished.
// Health and metrics probes are logged at debug level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		attrs := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if worker := c.GetString(WorkerIDKey); worker != "" {
			attrs = append(attrs, "worker_id", worker)
		}

		switch {
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			slog.Debug("HTTP request", attrs...)
		case c.Writer.Status() >= 500:
			slog.Error("HTTP request", attrs...)
		case c.Writer.Status() >= 400:
			slog.Warn("HTTP request", attrs...)
		default:
			slog.Info("HTTP request", attrs...)
		}
	}
}
