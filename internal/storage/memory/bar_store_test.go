package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

var btcKey = domain.MarketKey{Exchange: "binance", Area: "spot", Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h}

func TestBarStore_InsertAndRange(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()

	bars := []domain.Bar{
		{TimestampMs: 3000, Close: 3},
		{TimestampMs: 1000, Close: 1},
		{TimestampMs: 2000, Close: 2},
	}
	require.NoError(t, store.InsertBulk(ctx, btcKey, bars))

	got, err := store.GetByTimeRange(ctx, btcKey, 1500, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[0].TimestampMs)
	assert.Equal(t, int64(3000), got[1].TimestampMs)

	ok, err := store.Exists(ctx, btcKey)
	require.NoError(t, err)
	assert.True(t, ok)

	other := btcKey
	other.Symbol = "ETHUSDT"
	ok, err = store.Exists(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBarStore_DuplicateRejectsBatch(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()
	require.NoError(t, store.InsertBulk(ctx, btcKey, []domain.Bar{{TimestampMs: 1000}}))

	err := store.InsertBulk(ctx, btcKey, []domain.Bar{{TimestampMs: 2000}, {TimestampMs: 1000}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByTimeRange(ctx, btcKey, 0, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 1, "failed batch must not be partially applied")
}

func TestBarStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()
	require.NoError(t, store.InsertBulk(ctx, btcKey, []domain.Bar{{TimestampMs: 1000, Close: 10}}))

	got, err := store.GetByTimeRange(ctx, btcKey, 0, 5000)
	require.NoError(t, err)
	got[0].Close = 99

	again, err := store.GetByTimeRange(ctx, btcKey, 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, 10.0, again[0].Close)
}
