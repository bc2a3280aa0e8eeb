package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
)

// eventsRequest is the body of POST /v0/events.
type eventsRequest struct {
	Events []contracts.BulkEventItem `json:"events" binding:"required"`
}

// eventsResponse is the body returned by POST /v0/events.
type eventsResponse struct {
	Results []contracts.BulkEventResult `json:"results"`
}

// eventsHandler handles POST /v0/events: a provider's bulk out-of-band
// push of interaction and domain events, each accepted or rejected
// independently.
func (s *Server) eventsHandler(c *gin.Context) {
	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "invalid JSON body: %v", err))
		return
	}

	results := s.pipeline.Events(c.Request.Context(), req.Events)
	c.JSON(http.StatusOK, eventsResponse{Results: results})
}
