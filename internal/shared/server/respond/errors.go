package respond

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trial-estimator/internal/shared/telemetry"
)

// ErrorBody is the error object every failed request returns.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if studyID := c.GetString("studyId"); studyID != "" {
		fields["study_id"] = studyID
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// RateLimited sends 429 with a Retry-After header rounded up to whole seconds
// and the exact wait in details. A non-positive wait is reported as one second.
func RateLimited(c *gin.Context, retryAfter time.Duration, message string) {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	ms := int(retryAfter / time.Millisecond)
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(ms)/1000))))
	Error(c, http.StatusTooManyRequests, "rate_limited", message, gin.H{"retryAfterMs": ms})
}
