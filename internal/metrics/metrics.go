package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "estate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment status transitions by source and target status",
		},
		[]string{"from", "to", "source"},
	)
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "paynow",
			Name:      "calls_total",
			Help:      "Calls made to the Paynow gateway",
		},
		[]string{"operation", "outcome"},
	)
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Background jobs processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Middleware records request count and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		RequestCounter.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
