package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trial-estimator/internal/shared/telemetry"
)

// Logging emits a structured log per request. Handlers attach studyId,
// jobId and statusTransition to the gin context for this line.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if v := c.GetString("studyId"); v != "" {
			fields["study_id"] = v
		}
		if v := c.GetString("jobId"); v != "" {
			fields["job_id"] = v
		}
		if v := c.GetString("statusTransition"); v != "" {
			fields["status_transition"] = v
		}
		telemetry.Info("request.complete", fields)
	}
}
