package optimize

import (
	"context"
	"sync"
	"time"

	"backtest-lab/internal/domain"
)

// Progress is the concurrency-safe progress bookkeeping of one sweep.
type Progress struct {
	mu    sync.Mutex
	cond  *sync.Cond
	clock func() time.Time

	p        domain.OptimizationProgress
	partial  map[int64]float64 // in-flight backtests by sequence number
	pausedAt time.Time

	// credit is the number of sets past the checkpoint that an interrupted
	// run already counted. Their reruns are absorbed instead of counted.
	credit int64

	// rate is measured over this session only, so a resumed sweep does
	// not count the downtime before it.
	sessionStart time.Time
	sessionBase  float64
	sessionPause time.Duration
}

// NewProgress creates a tracker. A nil clock uses time.Now.
func NewProgress(clock func() time.Time) *Progress {
	if clock == nil {
		clock = time.Now
	}
	pr := &Progress{clock: clock, partial: make(map[int64]float64)}
	pr.cond = sync.NewCond(&pr.mu)
	return pr
}

// Start records the enumeration size. prior, when not nil, is the last
// snapshot of an interrupted run of the same sweep; its counters are kept.
func (pr *Progress) Start(planned, comprehensive int64, prior *domain.OptimizationProgress) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	now := pr.clock()
	if prior != nil {
		pr.p = *prior
		pr.p.IsPaused = false
		pr.p.EstimatedEndTimeMs = 0
		pr.credit = max(0, prior.Completed+prior.Skipped-prior.Position)
		pr.p.FractionallyCompleted = max(prior.FractionallyCompleted, float64(prior.Completed+prior.Skipped))
	}
	pr.p.PlannedTotal = planned
	pr.p.ComprehensiveTotal = comprehensive
	pr.p.Queued = planned
	if pr.p.StartTimeMs == 0 {
		pr.p.StartTimeMs = now.UnixMilli()
	}
	pr.sessionStart = now
	pr.sessionBase = pr.p.FractionallyCompleted
}

// Checkpoint records the enumerator position below which every set has
// completed or been skipped. A resumed sweep restarts there.
func (pr *Progress) Checkpoint(position int64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if position > pr.p.Position {
		pr.p.Position = position
	}
}

// SetPartial records the completion fraction of in-flight backtest seq.
func (pr *Progress) SetPartial(seq int64, frac float64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	pr.partial[seq] = frac
	pr.recompute()
}

// Complete counts backtest seq as finished.
func (pr *Progress) Complete(seq int64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.partial, seq)
	if !pr.absorb() {
		pr.p.Completed++
	}
	pr.recompute()
}

// Skip counts in-flight backtest seq as skipped.
func (pr *Progress) Skip(seq int64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.partial, seq)
	if !pr.absorb() {
		pr.p.Skipped++
	}
	pr.recompute()
}

// absorb consumes one unit of rerun credit.
func (pr *Progress) absorb() bool {
	if pr.credit == 0 {
		return false
	}
	pr.credit--
	return true
}

func (pr *Progress) recompute() {
	f := float64(pr.p.Completed + pr.p.Skipped)
	if pr.credit == 0 {
		for _, v := range pr.partial {
			f += v
		}
	}
	// partial work is never taken back
	if f > pr.p.FractionallyCompleted {
		pr.p.FractionallyCompleted = f
	}
}

// Pause stops new backtests from starting until Resume.
func (pr *Progress) Pause() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.p.IsPaused {
		return
	}
	pr.p.IsPaused = true
	pr.pausedAt = pr.clock()
}

// Resume ends a pause and adds its length to the paused time.
func (pr *Progress) Resume() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if !pr.p.IsPaused {
		return
	}
	d := pr.clock().Sub(pr.pausedAt)
	pr.p.PauseElapsedMs += d.Milliseconds()
	pr.sessionPause += d
	pr.p.IsPaused = false
	pr.cond.Broadcast()
}

// Paused reports whether the sweep is paused.
func (pr *Progress) Paused() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.p.IsPaused
}

// WaitWhilePaused blocks until the sweep is not paused or ctx is done.
func (pr *Progress) WaitWhilePaused(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		pr.mu.Lock()
		defer pr.mu.Unlock()
		pr.cond.Broadcast()
	})
	defer stop()

	pr.mu.Lock()
	defer pr.mu.Unlock()
	for pr.p.IsPaused {
		if err := ctx.Err(); err != nil {
			return err
		}
		pr.cond.Wait()
	}
	return ctx.Err()
}

// Snapshot returns the current progress with an estimated end time.
func (pr *Progress) Snapshot() domain.OptimizationProgress {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	snap := pr.p
	now := pr.clock()
	active := now.Sub(pr.sessionStart) - pr.sessionPause
	if pr.p.IsPaused {
		active -= now.Sub(pr.pausedAt)
		snap.PauseElapsedMs += now.Sub(pr.pausedAt).Milliseconds()
	}
	done := snap.FractionallyCompleted - pr.sessionBase
	remaining := float64(snap.PlannedTotal) - snap.FractionallyCompleted
	switch {
	case remaining <= 0:
		snap.EstimatedEndTimeMs = now.UnixMilli()
	case done > 0 && active > 0:
		perUnit := float64(active) / done
		snap.EstimatedEndTimeMs = now.Add(time.Duration(perUnit * remaining)).UnixMilli()
	}
	return snap
}
