package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/metrics"
)

// metricsJSONHandler handles GET /v0/metrics.
func (s *Server) metricsJSONHandler(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not configured"})
		return
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot(c.Request.Context()))
}

// metricsPrometheusHandler handles GET /metrics.
func (s *Server) metricsPrometheusHandler(c *gin.Context) {
	if s.metrics == nil {
		c.String(http.StatusServiceUnavailable, "metrics not configured\n")
		return
	}
	snap := s.metrics.Snapshot(c.Request.Context())
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.String(http.StatusOK, metrics.RenderPrometheus(snap))
}
