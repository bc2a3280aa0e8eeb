package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/database"
	"github.com/uniassist/gateway/pkg/version"
)

// healthHandler handles GET /health: liveness plus persistence status.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats := s.cfg.Stats()
	resp := &HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
		Config: map[string]interface{}{
			"workerCount":     stats.WorkerCount,
			"providerCount":   stats.ProviderCount,
			"inlineDispatch":  stats.InlineDispatch,
			"nonceTTLSeconds": stats.NonceTTLSeconds,
		},
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		if err != nil {
			resp.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = &DatabaseHealth{
			Status:          dbHealth.Status,
			OpenConnections: dbHealth.OpenConnections,
			InUse:           dbHealth.InUse,
			Idle:            dbHealth.Idle,
		}
	}

	if s.outboxPool != nil {
		poolHealth := s.outboxPool.Health(reqCtx)
		resp.Outbox = &OutboxHealth{
			WorkerCount:   poolHealth.WorkerCount,
			QueueDepth:    poolHealth.QueueDepth,
			DeadLetterCnt: poolHealth.DeadLetterCnt,
		}
	}

	c.JSON(http.StatusOK, resp)
}
