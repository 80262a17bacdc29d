package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

func TestSummaryStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSummaryStore(conn)

	summaries := []*domain.BacktestSummary{
		{JobID: "job", ParameterID: "a", Parameters: "fast=5|slow=20", Fitness: 1.5, Bars: 100, Trades: 4, WinRate: 0.5},
		{JobID: "job", ParameterID: "b", Parameters: "fast=5|slow=30", Fitness: 3.0, Retained: true},
		{JobID: "job", ParameterID: "c", Parameters: "fast=10|slow=30", Fitness: -1, Aborted: true, AbortReason: "BalanceDrawdown"},
	}
	require.NoError(t, store.InsertBulk(ctx, summaries))

	top, err := store.TopByFitness(ctx, "job", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].ParameterID)
	assert.True(t, top[0].Retained)
	assert.Equal(t, "a", top[1].ParameterID)

	all, err := store.GetByJobID(ctx, "job")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].Aborted)
	assert.Equal(t, "BalanceDrawdown", all[2].AbortReason)
	assert.Equal(t, 100, all[0].Bars)
	assert.Equal(t, 0.5, all[0].WinRate)

	err = store.InsertBulk(ctx, []*domain.BacktestSummary{{JobID: "job", ParameterID: "a"}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, store.ClearRetained(ctx, "job", []string{"b", "missing"}))
	top, err = store.TopByFitness(ctx, "job", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "b", top[0].ParameterID)
	assert.False(t, top[0].Retained)
}
