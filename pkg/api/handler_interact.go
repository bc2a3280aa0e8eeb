package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
)

// interactHandler handles POST /v0/interact.
func (s *Server) interactHandler(c *gin.Context) {
	var interaction contracts.UserInteraction
	if err := c.ShouldBindJSON(&interaction); err != nil {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "invalid JSON body: %v", err))
		return
	}

	if s.metrics != nil {
		s.metrics.IncInteract()
	}

	ack, err := s.pipeline.Interact(c.Request.Context(), interaction)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}
