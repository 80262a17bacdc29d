package domain

// OptimizationProgress is a read-only snapshot of a parameter sweep.
// Counters never decrease. Queued is fixed to the enumeration size.
type OptimizationProgress struct {
	PlannedTotal          int64   `json:"planned_total"`          // parameter sets the chosen enumeration will visit
	ComprehensiveTotal    int64   `json:"comprehensive_total"`    // size of the full cartesian product
	Skipped               int64   `json:"skipped"`                // sets dropped before running (invalid parameters, binding failure)
	Queued                int64   `json:"queued"`                 // sets the sweep will hand to backtest workers
	Completed             int64   `json:"completed"`              // finished backtests
	FractionallyCompleted float64 `json:"fractionally_completed"` // completed plus partial progress of in-flight backtests
	Position              int64   `json:"position"`               // enumerator position for resume
	StartTimeMs           int64   `json:"start_time_ms"`
	EstimatedEndTimeMs    int64   `json:"estimated_end_time_ms"`
	PauseElapsedMs        int64   `json:"pause_elapsed_ms"` // total time spent paused
	IsPaused              bool    `json:"is_paused"`
}

// Fraction returns completion in [0,1].
func (p OptimizationProgress) Fraction() float64 {
	if p.PlannedTotal <= 0 {
		return 0
	}
	f := p.FractionallyCompleted / float64(p.PlannedTotal)
	if f > 1 {
		return 1
	}
	return f
}
