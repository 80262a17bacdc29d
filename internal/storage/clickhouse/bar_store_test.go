package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

func TestBarStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBarStore(conn)
	key := domain.MarketKey{Exchange: "binance", Area: "spot", Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h}

	t.Run("InsertAndRange", func(t *testing.T) {
		bars := []domain.Bar{
			{TimestampMs: 3_600_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
			{TimestampMs: 7_200_000, Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 20},
			{TimestampMs: 10_800_000, Open: 2.5, High: 2.6, Low: 2, Close: 2.1, Volume: 5},
		}
		require.NoError(t, store.InsertBulk(ctx, key, bars))

		got, err := store.GetByTimeRange(ctx, key, 7_200_000, 10_800_000)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, bars[1], got[0])
		assert.Equal(t, bars[2], got[1])
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, key, []domain.Bar{{TimestampMs: 3_600_000}})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		other := key
		other.Timeframe = domain.Timeframe1d
		ok, err = store.Exists(ctx, other)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
