package optimizer

import (
	"errors"
	"fmt"
	"sort"

	"backtest-lab/internal/backtest"
)

// ErrUnknownFitness is returned for an unregistered fitness name.
var ErrUnknownFitness = errors.New("unknown fitness function")

// DefaultFitness is used when a spec names none.
const DefaultFitness = "roi_to_drawdown"

// FitnessFunc scores a finished backtest. Higher is better.
type FitnessFunc func(res *backtest.Result) float64

var fitnessFuncs = map[string]FitnessFunc{
	"roi":             func(r *backtest.Result) float64 { return r.Stats.ROI },
	"annualized_roi":  func(r *backtest.Result) float64 { return r.Stats.AnnualizedROI },
	"roi_to_drawdown": func(r *backtest.Result) float64 { return r.Stats.ROIToDrawdown },
	"final_equity":    func(r *backtest.Result) float64 { return r.Stats.FinalEquity },
}

// LookupFitness returns the fitness function registered under name.
func LookupFitness(name string) (FitnessFunc, error) {
	if name == "" {
		name = DefaultFitness
	}
	f, ok := fitnessFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFitness, name)
	}
	return f, nil
}

// FitnessNames lists the registered fitness functions.
func FitnessNames() []string {
	names := make([]string, 0, len(fitnessFuncs))
	for n := range fitnessFuncs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
