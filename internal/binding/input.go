// Package binding resolves the input slots a bot declares into shared,
// lookback-sized series cursors.
//
// An Input is either Bound (every leaf names a concrete series) or Unbound
// (a pattern with wildcards, or an indicator over an Unbound source). The
// binder rewrites Unbound inputs one level per pass until only Bound inputs
// remain.
package binding

import (
	"fmt"

	"backtest-lab/internal/domain"
)

// Input is the closed set {Bound, Unbound}.
type Input interface {
	isInput()
}

// Bound is a concrete input: a series leaf, or an indicator over a Bound source.
type Bound struct {
	Series    domain.SeriesKey // leaf when Indicator is empty
	Indicator string
	Period    int
	Source    *Bound
}

func (Bound) isInput() {}

// IsLeaf reports whether b reads a stored series directly.
func (b Bound) IsLeaf() bool { return b.Indicator == "" }

// Key is the sharing identity. Equal keys share one ResolvedInput.
func (b Bound) Key() string {
	if b.IsLeaf() {
		return b.Series.String()
	}
	return fmt.Sprintf("%s(%d)<%s>", b.Indicator, b.Period, b.Source.Key())
}

// Leaf returns the series at the bottom of the indicator chain.
func (b Bound) Leaf() domain.SeriesKey {
	for !b.IsLeaf() {
		b = *b.Source
	}
	return b.Series
}

// Pattern selects series. Empty fields are filled from the binder scope;
// an empty Symbol expands to every scope symbol.
type Pattern struct {
	Exchange  string
	Area      string
	Symbol    string
	Timeframe domain.Timeframe
	Aspect    domain.Aspect
}

// Unbound still needs resolution.
type Unbound struct {
	Pattern   Pattern // leaf when Indicator is empty
	Indicator string
	Period    int
	Source    Input
}

func (Unbound) isInput() {}

// Series returns an Unbound leaf matching p.
func Series(p Pattern) Unbound {
	return Unbound{Pattern: p}
}

// Indicator wraps source in the named indicator.
func Indicator(name string, period int, source Input) Unbound {
	return Unbound{Indicator: name, Period: period, Source: source}
}

// Slot is one declared dependency of a bot.
type Slot struct {
	Name     string
	Input    Input
	Lookback int  // values the consumer needs buffered, minimum 1
	Count    int  // producers the slot expects, default 1
	Optional bool // may stay empty when no producer has data
}

func (s Slot) count() int {
	if s.Count < 1 {
		return 1
	}
	return s.Count
}

func (s Slot) lookback() int {
	if s.Lookback < 1 {
		return 1
	}
	return s.Lookback
}
