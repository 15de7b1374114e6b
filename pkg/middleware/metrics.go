package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsOptions defines options for the metrics middleware.
type MetricsOptions struct {
	// Namespace is the metrics namespace.
	Namespace string
	// Subsystem is the metrics subsystem.
	Subsystem string
	// Registerer receives the collectors. nil uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// SkipPaths are not recorded.
	SkipPaths []string
}

// DefaultMetricsOptions returns the default metrics options.
func DefaultMetricsOptions() MetricsOptions {
	return MetricsOptions{
		Namespace: "docmind",
		Subsystem: "http",
		SkipPaths: []string{"/metrics"},
	}
}

// Metrics returns a middleware that records request count, latency and in-flight requests.
// Requests are labelled by route template, so path parameters do not explode cardinality.
func Metrics(opts MetricsOptions) gin.HandlerFunc {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	inflight := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being served.",
	})

	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		inflight.Inc()
		start := time.Now()
		c.Next()
		inflight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
