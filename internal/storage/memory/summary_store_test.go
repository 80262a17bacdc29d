package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

func TestSummaryStore_TopByFitness(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore()

	summaries := []*domain.BacktestSummary{
		{JobID: "j1", ParameterID: "p1", Fitness: 1},
		{JobID: "j1", ParameterID: "p2", Fitness: 5},
		{JobID: "j1", ParameterID: "p3", Fitness: 3},
		{JobID: "j2", ParameterID: "p1", Fitness: 100},
	}
	require.NoError(t, store.InsertBulk(ctx, summaries))

	top, err := store.TopByFitness(ctx, "j1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "p2", top[0].ParameterID)
	assert.Equal(t, "p3", top[1].ParameterID)

	all, err := store.GetByJobID(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p1", all[0].ParameterID)
}

func TestSummaryStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore()
	require.NoError(t, store.InsertBulk(ctx, []*domain.BacktestSummary{{JobID: "j", ParameterID: "p"}}))

	err := store.InsertBulk(ctx, []*domain.BacktestSummary{{JobID: "j", ParameterID: "p"}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.BacktestSummary{{JobID: "j"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSummaryStore_ClearRetained(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore()
	require.NoError(t, store.InsertBulk(ctx, []*domain.BacktestSummary{
		{JobID: "j", ParameterID: "p1", Retained: true},
		{JobID: "j", ParameterID: "p2", Retained: true},
	}))

	require.NoError(t, store.ClearRetained(ctx, "j", []string{"p1", "unknown"}))
	require.NoError(t, store.ClearRetained(ctx, "other", []string{"p2"}))

	all, err := store.GetByJobID(ctx, "j")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Retained)
	assert.True(t, all[1].Retained)
}
