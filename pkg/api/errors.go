package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniassist/gateway/pkg/contracts"
)

// writeError translates err into the matching HTTP status and
// ErrorResponse body, per spec §7's error taxonomy. Any error that isn't
// a *contracts.APIError is treated as an unexpected internal failure.
func writeError(c *gin.Context, err error) {
	var apiErr *contracts.APIError
	if errors.As(err, &apiErr) {
		c.JSON(statusForCode(apiErr.Code), contracts.ErrorResponse{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		})
		return
	}

	slog.Error("unexpected api error", "error", err)
	c.JSON(http.StatusInternalServerError, contracts.ErrorResponse{
		Code:    contracts.ErrInternal,
		Message: "internal error",
	})
}

func statusForCode(code contracts.ErrorCode) int {
	switch code {
	case contracts.ErrInvalidRequest:
		return http.StatusBadRequest
	case contracts.ErrInvalidSignature, contracts.ErrInvalidProviderToken:
		return http.StatusUnauthorized
	case contracts.ErrMissingScope:
		return http.StatusForbidden
	case contracts.ErrSessionNotFound:
		return http.StatusNotFound
	case contracts.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
