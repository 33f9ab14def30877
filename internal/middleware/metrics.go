package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumen_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"operation"})

	// ImageProcessingDuration records image pipeline latency per stage outcome.
	ImageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lumen_image_processing_duration_seconds",
		Help:    "Image processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// RateLimitDecisions counts limiter outcomes (allowed, limited, error).
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumen_rate_limit_decisions_total",
		Help: "Total rate limiter decisions by outcome",
	}, []string{"outcome"})
)

var (
	promOnce     sync.Once
	promInstance *fiberprometheus.FiberPrometheus
)

// InitMetrics creates the Prometheus HTTP middleware for the service. The
// instance is shared: HTTP metrics live in the process-wide default registry,
// so a second registration would panic.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInstance = fiberprometheus.New(serviceName)
	})
	return promInstance
}

// MetricsMiddleware wraps the fiberprometheus middleware as a fiber.Handler.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
