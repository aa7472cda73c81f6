package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"trial-estimator/internal/shared/server/respond"
	"trial-estimator/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 error body. The study and job a
// request was working on are logged with the stack when handlers set them.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"method":     c.Request.Method,
				"path":       c.Request.URL.Path,
				"panic":      rec,
				"stack":      string(debug.Stack()),
			}
			for key, field := range map[string]string{"studyId": "study_id", "jobId": "job_id"} {
				if v := c.GetString(key); v != "" {
					fields[field] = v
				}
			}
			telemetry.Error("http.panic", fields)
			respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
		}()
		c.Next()
	}
}
