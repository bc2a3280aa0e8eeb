package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/security"
)

// userContextHandler handles GET /v0/context/users/:profileRef, gated by a
// bearer token and a context:read scope (spec §4.5).
func (s *Server) userContextHandler(c *gin.Context) {
	profileRef := c.Param("profileRef")
	if profileRef == "" {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "profileRef is required"))
		return
	}

	if err := security.VerifyProviderAuth(
		c.GetHeader("Authorization"),
		c.GetHeader("X-Scope"),
		s.cfg.Security.ProviderContextToken,
		security.ScopeContextRead,
	); err != nil {
		switch err {
		case security.ErrInvalidProviderToken:
			writeError(c, contracts.NewAPIError(contracts.ErrInvalidProviderToken, "invalid or missing provider token"))
		case security.ErrMissingScope:
			writeError(c, contracts.NewAPIError(contracts.ErrMissingScope, "missing required scope %q", security.ScopeContextRead))
		default:
			writeError(c, err)
		}
		return
	}

	userID := c.Query("userId")

	snap, err := s.userContext.Get(c.Request.Context(), profileRef, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, contracts.UserContextSnapshot{
		ProfileRef:   snap.ProfileRef,
		UserID:       snap.UserID,
		Snapshot:     snap.Data,
		TTLExpiresAt: snap.TTLExpiresAt.UnixMilli(),
	})
}
