package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/metrics"
	"backtest-lab/internal/storage"
)

// Generator creates job reports.
type Generator struct {
	summaries storage.SummaryStore
	now       func() time.Time
}

// NewGenerator creates a report generator. summaries may be nil, in which
// case reports carry no distribution.
func NewGenerator(summaries storage.SummaryStore) *Generator {
	return &Generator{
		summaries: summaries,
		now:       time.Now,
	}
}

// WithClock sets a custom clock for deterministic GeneratedAt.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report of jobID from its leaderboard and stored summaries.
func (g *Generator) Generate(ctx context.Context, jobID string, spec *domain.OptimizationSpec, progress domain.OptimizationProgress, rows []Row) (*Report, error) {
	r := &Report{
		JobID:       jobID,
		GeneratedAt: g.now(),
		Spec:        spec,
		Progress:    progress,
		Rows:        rows,
	}
	if g.summaries == nil {
		return r, nil
	}

	sums, err := g.summaries.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	r.Distribution = distribution(sums)
	return r, nil
}

func distribution(sums []*domain.BacktestSummary) *Distribution {
	d := &Distribution{Backtests: len(sums)}
	if len(sums) == 0 {
		return d
	}

	fitness := make([]float64, 0, len(sums))
	winRate := 0.0
	d.BestROI = sums[0].ROI
	d.WorstROI = sums[0].ROI
	for _, s := range sums {
		if s.Aborted {
			d.Aborted++
		}
		if s.ROI > 0 {
			d.Profitable++
		}
		if s.ROI > d.BestROI {
			d.BestROI = s.ROI
		}
		if s.ROI < d.WorstROI {
			d.WorstROI = s.ROI
		}
		fitness = append(fitness, s.Fitness)
		winRate += s.WinRate
	}
	sort.Float64s(fitness)
	d.FitnessP10 = metrics.Percentile(fitness, 0.10)
	d.FitnessMedian = metrics.Percentile(fitness, 0.50)
	d.FitnessP90 = metrics.Percentile(fitness, 0.90)
	d.MeanWinRate = winRate / float64(len(sums))
	return d
}
