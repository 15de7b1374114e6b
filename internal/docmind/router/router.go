// Package router provides DocuMind service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/docmind/internal/docmind/handler"
)

// Register registers the DocuMind API routes.
func Register(r gin.IRouter, h *handler.DocMindHandler) {
	logger.Info("Registering DocuMind routes...")

	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	{
		v1.GET("/models", h.Models)
		v1.GET("/stats", h.Stats)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.POST("/upload", h.Upload)
			sessions.GET("/:id", h.GetSession)
			sessions.DELETE("/:id", h.Clear)
			sessions.POST("/:id/ask", h.Ask)
			sessions.GET("/:id/history", h.History)
		}
	}

	logger.Info("HTTP routes registered")
}

// RegisterMetrics exposes the Prometheus registry on path. An empty path registers nothing.
func RegisterMetrics(r gin.IRouter, path string, gatherer prometheus.Gatherer) {
	if path == "" {
		return
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle(http.MethodGet, path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
