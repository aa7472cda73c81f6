package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trial-estimator/internal/services/health"
	"trial-estimator/internal/shared/config"
	"trial-estimator/internal/shared/metrics"
	"trial-estimator/internal/shared/server/middleware"
	"trial-estimator/internal/shared/server/respond"
	"trial-estimator/internal/studies"
)

// Job submissions are expensive; clients may burst a few and then one every 10s.
var submitRule = middleware.RateLimitRule{Rate: 0.1, Burst: 3}

// RouterDeps carries the handlers mounted by NewRouter.
type RouterDeps struct {
	Config       config.Config
	Health       *health.Service
	StudyHandler *studies.Handler
	Limiter      *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		status, ok := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	api.GET("/metrics", metrics.Handler())

	if deps.StudyHandler != nil {
		submitLimit := middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: deps.Limiter,
			Rules:   map[string]middleware.RateLimitRule{"DEFAULT": submitRule},
		})
		deps.StudyHandler.RegisterRoutes(api, submitLimit)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
