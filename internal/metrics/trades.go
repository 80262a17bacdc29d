// Package metrics derives per-trade statistics from the fills of a backtest.
package metrics

import (
	"math"
	"sort"

	"backtest-lab/internal/holding"
)

// TradeStats summarizes the closed round trips of one backtest.
// Outcomes are realized PnL net of entry and exit fees.
type TradeStats struct {
	ClosedTrades         int     `json:"closed_trades"`
	Wins                 int     `json:"wins"`
	Losses               int     `json:"losses"`
	WinRate              float64 `json:"win_rate"`
	GrossProfit          float64 `json:"gross_profit"`
	GrossLoss            float64 `json:"gross_loss"` // positive magnitude
	OutcomeMean          float64 `json:"outcome_mean"`
	OutcomeMedian        float64 `json:"outcome_median"`
	OutcomeP10           float64 `json:"outcome_p10"`
	OutcomeP90           float64 `json:"outcome_p90"`
	OutcomeMin           float64 `json:"outcome_min"`
	OutcomeMax           float64 `json:"outcome_max"`
	OutcomeStddev        float64 `json:"outcome_stddev"`
	MaxDrawdown          float64 `json:"max_drawdown"` // on cumulative outcomes
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// Compute derives TradeStats from fills. A buy opens a round trip on its
// symbol and the next sell of that symbol closes it; unmatched sells are
// counted without an entry fee.
func Compute(trades []holding.Trade) TradeStats {
	sorted := make([]holding.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	entryFee := make(map[string]float64)
	var outcomes []float64
	for _, t := range sorted {
		switch t.Side {
		case holding.SideBuy:
			entryFee[t.Symbol] = t.Fee
		case holding.SideSell:
			outcomes = append(outcomes, t.PnL-t.Fee-entryFee[t.Symbol])
			delete(entryFee, t.Symbol)
		}
	}
	return fromOutcomes(outcomes)
}

// fromOutcomes computes the statistics of chronologically ordered outcomes.
func fromOutcomes(outcomes []float64) TradeStats {
	n := len(outcomes)
	if n == 0 {
		return TradeStats{}
	}

	st := TradeStats{ClosedTrades: n}
	for _, o := range outcomes {
		if o > 0 {
			st.Wins++
			st.GrossProfit += o
		} else {
			st.Losses++
			st.GrossLoss -= o
		}
	}
	st.WinRate = float64(st.Wins) / float64(n)

	// Sort outcomes for percentile calculations
	sortedOutcomes := make([]float64, n)
	copy(sortedOutcomes, outcomes)
	sort.Float64s(sortedOutcomes)

	st.OutcomeMean = computeMean(outcomes)
	st.OutcomeStddev = computeStddev(outcomes, st.OutcomeMean)
	st.OutcomeMedian = Percentile(sortedOutcomes, 0.50)
	st.OutcomeP10 = Percentile(sortedOutcomes, 0.10)
	st.OutcomeP90 = Percentile(sortedOutcomes, 0.90)
	st.OutcomeMin = sortedOutcomes[0]
	st.OutcomeMax = sortedOutcomes[n-1]

	// Order-dependent
	st.MaxDrawdown = computeMaxDrawdown(outcomes)
	st.MaxConsecutiveLosses = computeMaxConsecutiveLosses(outcomes)
	return st
}

func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outcomes {
		sum += o
	}
	return sum / float64(len(outcomes))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// Percentile returns the p-th percentile of sorted using linear interpolation.
// sorted must be pre-sorted ASC; p is a fraction (0.10 = 10th percentile).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown calculates worst peak-to-trough on cumulative outcomes.
func computeMaxDrawdown(outcomes []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, o := range outcomes {
		cumulative += o
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds longest streak of outcome <= 0.
func computeMaxConsecutiveLosses(outcomes []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, o := range outcomes {
		if o <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}
