package storage_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
)

// brokenQueue fails Status; every other method panics if reached.
type brokenQueue struct {
	storage.JobQueue
}

func (brokenQueue) Status(context.Context, int64) (domain.QueueStatus, error) {
	return domain.QueueStatus{}, errors.New("connection reset")
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	observability.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObservedJobQueue_RecordsQueries(t *testing.T) {
	ctx := context.Background()
	q := &storage.ObservedJobQueue{Next: memory.NewJobQueue(), Backend: "observed_test"}

	require.NoError(t, q.Enqueue(ctx, &domain.OptimizationJob{ID: "j1", Status: domain.JobStatusQueued, CreatedAt: 1}))
	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	failing := &storage.ObservedJobQueue{Next: brokenQueue{}, Backend: "observed_test"}
	_, err = failing.Status(ctx, 0)
	require.Error(t, err)

	body := scrape(t)
	assert.Contains(t, body, `backtest_lab_database_query_duration_seconds_count{database="observed_test",operation="enqueue"} 1`)
	assert.Contains(t, body, `backtest_lab_database_query_duration_seconds_count{database="observed_test",operation="get"} 1`)
	assert.Contains(t, body, `backtest_lab_database_query_errors_total{database="observed_test",operation="status"} 1`)
	assert.NotContains(t, body, `backtest_lab_database_query_errors_total{database="observed_test",operation="get"}`)
}

func TestObservedSummaryStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	s := &storage.ObservedSummaryStore{Next: memory.NewSummaryStore(), Backend: "observed_test"}

	require.NoError(t, s.InsertBulk(ctx, []*domain.BacktestSummary{{JobID: "j", ParameterID: "p", Retained: true}}))
	require.NoError(t, s.ClearRetained(ctx, "j", []string{"p"}))

	top, err := s.TopByFitness(ctx, "j", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.False(t, top[0].Retained)
	assert.Contains(t, scrape(t), `backtest_lab_database_query_duration_seconds_count{database="observed_test",operation="clear_retained"} 1`)
}
