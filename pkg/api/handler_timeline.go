package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
)

// timelineHandler handles GET /v0/timeline?sessionId=&cursor=: the
// cursor-paginated fetch side of the Subscription Surface (spec §4.9).
func (s *Server) timelineHandler(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "sessionId is required"))
		return
	}

	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "cursor must be an integer"))
			return
		}
		cursor = parsed
	}

	page, err := s.timelineStore.List(c.Request.Context(), sessionID, cursor)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}
