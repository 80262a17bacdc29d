// Package optimize enumerates parameter spaces in restartable batches and
// tracks sweep progress.
package optimize

import (
	"errors"
	"fmt"
	"math"

	"backtest-lab/internal/domain"
)

// ErrInvalidRange is returned for a malformed parameter range.
var ErrInvalidRange = errors.New("invalid parameter range")

const epsilon = 1e-9

// round snaps v to 9 decimals so accumulated steps compare equal.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// Values lists the values of r with its step multiplied by granularity
// (values below 1 are treated as 1). With an anchor, values lie on
// anchor + k*step within [Min, Max].
func Values(r domain.ParameterRange, granularity float64) ([]float64, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	if granularity < 1 {
		granularity = 1
	}
	step := r.Step * granularity

	first := r.Min
	if r.Anchor != nil {
		k := math.Ceil((r.Min - *r.Anchor) / step - epsilon)
		first = *r.Anchor + k*step
	}

	var out []float64
	for k := 0; ; k++ {
		v := round(first + float64(k)*step)
		if v > r.Max+epsilon {
			break
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no value on its anchor grid", ErrInvalidRange, r.Name)
	}
	return out, nil
}

func validate(r domain.ParameterRange) error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRange)
	case math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsNaN(r.Step):
		return fmt.Errorf("%w: %s has NaN bounds", ErrInvalidRange, r.Name)
	case r.Step <= 0:
		return fmt.Errorf("%w: %s step %v must be positive", ErrInvalidRange, r.Name, r.Step)
	case r.Max < r.Min:
		return fmt.Errorf("%w: %s max %v below min %v", ErrInvalidRange, r.Name, r.Max, r.Min)
	}
	return nil
}

// product multiplies counts, saturating at math.MaxInt64.
func product(counts []int) int64 {
	total := int64(1)
	for _, c := range counts {
		if c == 0 {
			return 0
		}
		if total > math.MaxInt64/int64(c) {
			return math.MaxInt64
		}
		total *= int64(c)
	}
	return total
}
