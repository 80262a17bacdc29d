package optimize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProgress_CountersAndETA(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	pr := NewProgress(clock.now)
	pr.Start(10, 20, nil)

	pr.Checkpoint(4)
	clock.advance(4 * time.Second)
	pr.Complete(0)
	pr.Complete(1)
	pr.SetPartial(2, 0.5)
	pr.Skip(3)

	snap := pr.Snapshot()
	assert.Equal(t, int64(10), snap.PlannedTotal)
	assert.Equal(t, int64(20), snap.ComprehensiveTotal)
	assert.Equal(t, int64(10), snap.Queued)
	assert.Equal(t, int64(2), snap.Completed)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(4), snap.Position)
	assert.InDelta(t, 3.5, snap.FractionallyCompleted, 1e-9)
	// 3.5 units in 4s, 6.5 left
	perUnit := float64(4*time.Second) / 3.5
	want := clock.t.Add(time.Duration(perUnit * 6.5)).UnixMilli()
	assert.InDelta(t, want, snap.EstimatedEndTimeMs, 1)
	assert.InDelta(t, 0.35, snap.Fraction(), 1e-9)
}

func TestProgress_FractionNeverDecreases(t *testing.T) {
	pr := NewProgress(nil)
	pr.Start(4, 4, nil)
	pr.SetPartial(0, 0.9)
	pr.SetPartial(0, 0.2)
	assert.InDelta(t, 0.9, pr.Snapshot().FractionallyCompleted, 1e-9)
}

func TestProgress_PauseAccounting(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(0)}
	pr := NewProgress(clock.now)
	pr.Start(2, 2, nil)

	pr.Pause()
	assert.True(t, pr.Paused())
	clock.advance(3 * time.Second)
	assert.Equal(t, int64(3000), pr.Snapshot().PauseElapsedMs)

	done := make(chan error, 1)
	go func() { done <- pr.WaitWhilePaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	pr.Resume()
	require.NoError(t, <-done)
	snap := pr.Snapshot()
	assert.False(t, snap.IsPaused)
	assert.Equal(t, int64(3000), snap.PauseElapsedMs)
}

func TestProgress_WaitHonoursContext(t *testing.T) {
	pr := NewProgress(nil)
	pr.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pr.WaitWhilePaused(ctx), context.DeadlineExceeded)
}

func TestProgress_StartFromPrior(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(50_000)}
	pr := NewProgress(clock.now)
	prior := &domain.OptimizationProgress{
		Completed:      3,
		Skipped:        1,
		Queued:         5,
		Position:       5,
		StartTimeMs:    10_000,
		PauseElapsedMs: 700,
		IsPaused:       true,
	}
	pr.Start(10, 10, prior)

	snap := pr.Snapshot()
	assert.Equal(t, int64(10_000), snap.StartTimeMs, "start time survives resume")
	assert.Equal(t, int64(5), snap.Position)
	assert.InDelta(t, 4.0, snap.FractionallyCompleted, 1e-9)
	assert.False(t, snap.IsPaused)
	assert.Zero(t, snap.EstimatedEndTimeMs, "no rate measured yet")
}

func TestProgress_StartFromPriorPastCheckpoint(t *testing.T) {
	pr := NewProgress(nil)
	pr.Start(10, 10, &domain.OptimizationProgress{Completed: 6, Skipped: 1, Position: 4})

	snap := pr.Snapshot()
	assert.Equal(t, int64(6), snap.Completed, "counters survive resume")
	assert.Equal(t, int64(1), snap.Skipped)
	assert.InDelta(t, 7.0, snap.FractionallyCompleted, 1e-9)

	// sets 4..6 were counted before the interruption and run again
	for seq := int64(4); seq < 7; seq++ {
		pr.Complete(seq)
	}
	snap = pr.Snapshot()
	assert.Equal(t, int64(6), snap.Completed)
	assert.InDelta(t, 7.0, snap.FractionallyCompleted, 1e-9)

	for seq := int64(7); seq < 10; seq++ {
		pr.Complete(seq)
	}
	snap = pr.Snapshot()
	assert.Equal(t, int64(9), snap.Completed)
	assert.Equal(t, int64(10), snap.Completed+snap.Skipped)
	assert.InDelta(t, 10.0, snap.FractionallyCompleted, 1e-9)
}

func TestProgress_ResumeKeepsCountersMonotonic(t *testing.T) {
	pr := NewProgress(nil)
	pr.Start(20, 20, &domain.OptimizationProgress{Completed: 10, Queued: 12, Position: 6})

	last := pr.Snapshot()
	assert.Equal(t, int64(20), last.Queued, "queued is the enumeration size")
	for seq := int64(6); seq < 20; seq++ {
		pr.SetPartial(seq, 0.5)
		if seq%5 == 0 {
			pr.Skip(seq)
		} else {
			pr.Complete(seq)
		}
		snap := pr.Snapshot()
		assert.GreaterOrEqual(t, snap.Completed, last.Completed)
		assert.GreaterOrEqual(t, snap.Skipped, last.Skipped)
		assert.GreaterOrEqual(t, snap.FractionallyCompleted, last.FractionallyCompleted)
		assert.Equal(t, int64(20), snap.Queued)
		last = snap
	}
	assert.Equal(t, int64(20), last.Completed+last.Skipped)
	assert.LessOrEqual(t, last.Queued, last.PlannedTotal)
}
