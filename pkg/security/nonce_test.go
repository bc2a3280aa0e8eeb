package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNonceCache_ClaimOnce(t *testing.T) {
	c := NewNonceCache(5 * time.Minute)

	assert.True(t, c.ClaimOnce("a"))
	assert.False(t, c.ClaimOnce("a"))
	assert.True(t, c.ClaimOnce("b"))
	assert.Equal(t, 2, c.Len())
}

func TestNonceCache_SweepRemovesExpired(t *testing.T) {
	base := time.Now()
	c := NewNonceCache(time.Minute)
	c.now = func() time.Time { return base }

	c.ClaimOnce("a")
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Sweep()

	assert.Equal(t, 0, c.Len())
}

func TestNonceCache_ClaimAfterExpiry(t *testing.T) {
	base := time.Now()
	c := NewNonceCache(time.Minute)
	c.now = func() time.Time { return base }

	assert.True(t, c.ClaimOnce("a"))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.True(t, c.ClaimOnce("a"))
}
