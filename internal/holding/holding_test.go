package holding

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	calls []AbortReason
}

func (s *recordingSink) Abort(_ string, reason AbortReason) {
	s.calls = append(s.calls, reason)
}

func TestHolding_DrawdownBookkeeping(t *testing.T) {
	h := New("BTC", 100, nil, nil)

	h.ApplyBalanceDelta(20) // 120, new peak
	h.ApplyBalanceDelta(-30)

	b := h.Balance()
	assert.Equal(t, 90.0, b.Current)
	assert.Equal(t, 120.0, b.Highest)
	assert.Equal(t, 30.0, b.Drawdown)
	assert.InDelta(t, 0.25, b.DrawdownFrac, 1e-12)

	h.ApplyBalanceDelta(20) // 110, recovering
	b = h.Balance()
	assert.Equal(t, 10.0, b.Drawdown)
	assert.Equal(t, 30.0, b.MaxDrawdown, "max drawdown never shrinks")
	assert.InDelta(t, 0.25, b.MaxDrawdownFrac, 1e-12)
}

func TestHolding_RandomWalkInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := New("ETH", 1000, nil, nil)

	prevHighest := h.Balance().Highest
	prevMax := h.Balance().MaxDrawdown
	for i := 0; i < 10_000; i++ {
		h.ApplyBalanceDelta(rng.NormFloat64() * 25)
		h.MarkEquity(h.Balance().Current + rng.NormFloat64()*10)

		b := h.Balance()
		require.GreaterOrEqual(t, b.Highest, prevHighest)
		require.GreaterOrEqual(t, b.MaxDrawdown, prevMax)
		require.GreaterOrEqual(t, b.MaxDrawdown, b.Drawdown)
		require.GreaterOrEqual(t, b.Drawdown, 0.0)
		require.InDelta(t, b.Highest-b.Current, b.Drawdown, 1e-9)

		e := h.Equity()
		require.GreaterOrEqual(t, e.MaxDrawdownFrac, e.DrawdownFrac)

		prevHighest, prevMax = b.Highest, b.MaxDrawdown
	}
}

func TestHolding_AbortFiresOnce(t *testing.T) {
	sink := &recordingSink{}
	h := New("BTC", 100, &ProtectionPolicy{MaxBalanceDrawdown: 0.2}, sink)

	h.ApplyBalanceDelta(-10) // 10%
	assert.Empty(t, sink.calls)

	h.ApplyBalanceDelta(-15) // 25%, crosses
	h.ApplyBalanceDelta(20)  // back above threshold
	h.ApplyBalanceDelta(-40) // crosses again

	require.Len(t, sink.calls, 1)
	assert.Equal(t, AbortBalanceDrawdown, sink.calls[0])

	aborted, reason := h.Aborted()
	assert.True(t, aborted)
	assert.Equal(t, AbortBalanceDrawdown, reason)

	h.ApplyBalanceDelta(1000)
	aborted, _ = h.Aborted()
	assert.True(t, aborted, "recovery must not un-abort")
}

func TestHolding_EquityDoesNotAbort(t *testing.T) {
	sink := &recordingSink{}
	h := New("BTC", 100, &ProtectionPolicy{MaxBalanceDrawdown: 0.1}, sink)

	h.MarkEquity(50)
	assert.Empty(t, sink.calls)
}

func TestAnalytics(t *testing.T) {
	h := New("BTC", 100, nil, nil)
	h.ApplyBalanceDelta(-10)
	h.ApplyBalanceDelta(20) // 110

	assert.InDelta(t, 0.10, h.ROI(), 1e-12)
	assert.InDelta(t, 0.10, h.AnnualizedROI(year), 1e-12)
	assert.InDelta(t, math.Pow(1.1, 2)-1, h.AnnualizedROI(year/2), 1e-9)
	assert.Equal(t, 0.0, h.AnnualizedROI(0))

	assert.InDelta(t, 0.10/0.10, h.AnnualizedROIToMaxDrawdown(year), 1e-9)
}

func TestAnalytics_DrawdownFloor(t *testing.T) {
	h := New("BTC", 100, nil, nil)
	h.ApplyBalanceDelta(5) // no drawdown at all

	got := h.AnnualizedROIToMaxDrawdown(year)
	assert.InDelta(t, 0.05/MinDrawdownDenominator, got, 1e-6)
	assert.False(t, math.IsInf(got, 0))
}

func TestAnalytics_TotalLoss(t *testing.T) {
	h := New("BTC", 100, nil, nil)
	h.ApplyBalanceDelta(-150)
	assert.Equal(t, -1.0, h.AnnualizedROI(24*time.Hour))
}
