package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// NewRouter builds the gin engine shared by both binaries: recovery, access
// logging, /health and /metrics.
func NewRouter(gatherer prometheus.Gatherer, checks map[string]HealthCheck, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	r.GET("/health", healthHandler(checks))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := gin.H{"status": "ok", "dependencies": deps}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			return
		}
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
