package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/backtest"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
	"backtest-lab/internal/series"
	"backtest-lab/internal/storage/memory"
)

const hour = int64(time.Hour / time.Millisecond)

// vShape falls, rises, then falls again.
func vShape() []domain.Bar {
	var closes []float64
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 82+2*float64(i))
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 120-2*float64(i))
	}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{TimestampMs: int64(i) * hour, Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return bars
}

func runBot(t *testing.T, bot backtest.Bot) *backtest.Result {
	t.Helper()
	ctx := context.Background()
	bars := vShape()
	store := memory.NewBarStore()
	mk := domain.MarketKey{Exchange: "x", Area: "spot", Symbol: "BTC", Timeframe: domain.Timeframe1h}
	require.NoError(t, store.InsertBulk(ctx, mk, bars))

	runner := backtest.NewRunner(series.NewProvider(store, 0, int64(len(bars))*hour, 0), backtest.Config{
		Exchange:       "x",
		Area:           "spot",
		Timeframe:      domain.Timeframe1h,
		Symbols:        []string{"BTC"},
		InitialBalance: 1000,
	})
	res, err := runner.Run(ctx, bot)
	require.NoError(t, err)
	return res
}

func TestMACross_TradesTheSwing(t *testing.T) {
	bot, err := New("ma_cross", domain.ParameterSet{"fast": 3, "slow": 8}, []string{"BTC"})
	require.NoError(t, err)

	res := runBot(t, bot)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, holding.SideBuy, res.Trades[0].Side)
	assert.Equal(t, holding.SideSell, res.Trades[1].Side)
	assert.Greater(t, res.Trades[1].Price, res.Trades[0].Price)
	assert.Greater(t, res.Stats.ROI, 0.0)
}

func TestMACross_EMA(t *testing.T) {
	bot, err := New("ma_cross", domain.ParameterSet{"fast": 3, "slow": 8, "ema": 1}, []string{"BTC"})
	require.NoError(t, err)

	res := runBot(t, bot)
	assert.NotEmpty(t, res.Trades)
}

func TestBreakout_EntersOnNewHigh(t *testing.T) {
	bot, err := New("breakout", domain.ParameterSet{"entry": 5, "exit": 3}, []string{"BTC"})
	require.NoError(t, err)

	res := runBot(t, bot)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, holding.SideBuy, res.Trades[0].Side)
}

func TestNew_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		bot    string
		params domain.ParameterSet
	}{
		{"fast not below slow", "ma_cross", domain.ParameterSet{"fast": 10, "slow": 10}},
		{"fractional period", "ma_cross", domain.ParameterSet{"fast": 2.5, "slow": 10}},
		{"fraction out of range", "ma_cross", domain.ParameterSet{"fraction": 1.5}},
		{"short channel", "breakout", domain.ParameterSet{"entry": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.bot, tt.params, []string{"BTC"})
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}

	_, err := New("nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestNames(t *testing.T) {
	assert.Contains(t, Names(), "ma_cross")
	assert.True(t, Exists("breakout"))
}
