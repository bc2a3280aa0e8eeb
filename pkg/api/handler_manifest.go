package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/provider"
)

// manifestHandler handles GET /.well-known/uniassist/manifest.json,
// serving the built-in fallback provider's manifest.
func (s *Server) manifestHandler(c *gin.Context) {
	c.JSON(http.StatusOK, provider.BuiltinChatManifest)
}
