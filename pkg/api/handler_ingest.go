package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/ingest"
)

const (
	headerSignature = "X-Signature"
	headerTimestamp = "X-Timestamp"
	headerNonce     = "X-Nonce"
)

// ingestHandler handles POST /v0/ingest. The raw body is read once and
// kept verbatim, since external-source requests are verified against the
// exact bytes that were signed.
func (s *Server) ingestHandler(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "failed to read request body"))
		return
	}

	var input contracts.UnifiedUserInput
	if err := json.Unmarshal(rawBody, &input); err != nil {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "invalid JSON body: %v", err))
		return
	}

	headers := ingest.Headers{
		Signature: c.GetHeader(headerSignature),
		Timestamp: c.GetHeader(headerTimestamp),
		Nonce:     c.GetHeader(headerNonce),
	}

	if s.metrics != nil {
		s.metrics.IncIngest()
	}

	ack, err := s.pipeline.Ingest(c.Request.Context(), input, rawBody, headers)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncIngestError()
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}
