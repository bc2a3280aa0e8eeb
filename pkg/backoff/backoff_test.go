package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute_GrowsExponentially(t *testing.T) {
	base := 250 * time.Millisecond
	max := time.Minute

	d1 := Compute(1, base, max)
	d3 := Compute(3, base, max)
	assert.InDelta(t, float64(base), float64(d1), float64(base)*0.26)
	assert.InDelta(t, float64(base*4), float64(d3), float64(base*4)*0.26)
}

func TestCompute_CapsAtMax(t *testing.T) {
	base := 250 * time.Millisecond
	max := time.Second

	d := Compute(20, base, max)
	assert.LessOrEqual(t, d, max+max/4)
}

func TestCompute_NeverNegative(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		d := Compute(attempt, time.Millisecond, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
