package holding

import (
	"math"
	"time"
)

// MinDrawdownDenominator floors the drawdown used as a ratio denominator.
const MinDrawdownDenominator = 0.001

const year = 365 * 24 * time.Hour

// ROI returns the fractional return of the balance since creation.
func (h *Holding) ROI() float64 {
	return roi(h.balance)
}

// AnnualizedROI compounds ROI to a one-year horizon over the elapsed
// simulated duration. Returns 0 when elapsed is not positive.
func (h *Holding) AnnualizedROI(elapsed time.Duration) float64 {
	return annualize(roi(h.balance), elapsed)
}

// AnnualizedROIToMaxDrawdown divides annualized ROI by the maximum fractional
// balance drawdown, floored at MinDrawdownDenominator.
func (h *Holding) AnnualizedROIToMaxDrawdown(elapsed time.Duration) float64 {
	dd := math.Max(h.balance.MaxDrawdownFrac, MinDrawdownDenominator)
	return h.AnnualizedROI(elapsed) / dd
}

func roi(l Ledger) float64 {
	if l.Initial == 0 {
		return 0
	}
	return (l.Current - l.Initial) / l.Initial
}

func annualize(r float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	growth := 1 + r
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, float64(year)/float64(elapsed)) - 1
}
