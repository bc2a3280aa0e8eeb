package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError(ErrInvalidRequest, "missing field %s", "traceId")
	assert.Equal(t, "INVALID_REQUEST: missing field traceId", err.Error())
}
