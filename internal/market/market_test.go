package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

const hour = int64(time.Hour / time.Millisecond)

func TestMarket_UnionTimeline(t *testing.T) {
	m, err := New(domain.Timeframe1h, map[string][]domain.Bar{
		"BTC": {{TimestampMs: 0, Open: 1, Close: 2}, {TimestampMs: 2 * hour, Open: 3, Close: 4}},
		"ETH": {{TimestampMs: hour, Open: 10, Close: 11}, {TimestampMs: 2 * hour, Open: 12, Close: 13}},
	}, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	require.True(t, m.Advance())
	assert.Equal(t, hour, m.Now(), "now is the close of the current bar")
	p, ok := m.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 2.0, p)
	_, ok = m.Price("ETH")
	assert.False(t, ok, "ETH has not started")

	require.True(t, m.Advance())
	assert.False(t, m.Fresh("BTC"))
	_, ok = m.OpenPrice("BTC")
	assert.False(t, ok, "no fill without a bar at this step")
	p, _ = m.Price("BTC")
	assert.Equal(t, 2.0, p, "stale close carries forward")

	require.True(t, m.Advance())
	o, ok := m.OpenPrice("ETH")
	assert.True(t, ok)
	assert.Equal(t, 12.0, o)
	assert.Len(t, m.Window("BTC", 5), 2)

	assert.False(t, m.Advance())
	assert.Equal(t, int64(0), m.Start())
	assert.Equal(t, 3*hour, m.End())
}

func TestMarket_RejectsUnsortedBars(t *testing.T) {
	_, err := New(domain.Timeframe1h, map[string][]domain.Bar{
		"BTC": {{TimestampMs: hour}, {TimestampMs: 0}},
	}, []string{"BTC"})
	assert.Error(t, err)

	_, err = New("7m", nil, nil)
	assert.Error(t, err)
}
