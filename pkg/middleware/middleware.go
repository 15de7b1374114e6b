// Package middleware provides gin middleware for the DocuMind HTTP API.
//
// This package includes:
//   - Recovery: Panic recovery with JSON error response
//   - RequestID: Adds unique request ID to each request
//   - Logger: Structured request logging
//   - CORS: Cross-Origin Resource Sharing support
//   - Timeout: Request deadline propagated through the request context
//   - Metrics: Prometheus request counters and latency histograms
//   - Tracing: OpenTelemetry server spans with W3C trace context propagation
//
// Usage:
//
//	r := gin.New()
//	r.Use(
//	    middleware.Recovery(),
//	    middleware.RequestID(),
//	    middleware.Logger(),
//	    middleware.Metrics(prometheus.DefaultRegisterer),
//	)
package middleware
