package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	w := []float64{2, 4, 6, 8}

	assert.Equal(t, 5.0, SMA(w))
	assert.Equal(t, 8.0, Highest(w))
	assert.Equal(t, 2.0, Lowest(w))
	assert.InDelta(t, math.Sqrt(5), StdDev(w), 1e-12)
	assert.Equal(t, 3.0, RateOfChange(w))

	// alpha = 0.4: 2 -> 2.8 -> 4.08 -> 5.648
	assert.InDelta(t, 5.648, EMA(w), 1e-12)

	assert.True(t, math.IsNaN(SMA(nil)))
}

func TestRegistry(t *testing.T) {
	f, err := Lookup("sma")
	require.NoError(t, err)
	assert.Equal(t, 2.0, f([]float64{1, 3}))

	_, err = Lookup("nope")
	assert.Error(t, err)

	Register("last", func(w []float64) float64 { return w[len(w)-1] })
	f, err = Lookup("last")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f([]float64{1, 3}))
	assert.Contains(t, Names(), "last")
}
