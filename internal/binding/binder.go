package binding

import (
	"context"
	"fmt"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/indicator"
	"backtest-lab/internal/series"
)

// Policy controls how missing data is handled.
type Policy int

const (
	// RequireComplete fails when any producer is missing or the count differs.
	RequireComplete Policy = iota
	// SkipMissing drops unavailable candidates and takes up to Count producers.
	SkipMissing
)

// Scope fills the wildcards of Unbound patterns.
type Scope struct {
	Exchange  string
	Area      string
	Timeframe domain.Timeframe
	Symbols   []string // traded symbols, in expansion order
}

// Catalog answers which series exist and loads them.
// *series.Provider implements it.
type Catalog interface {
	Available(ctx context.Context, key domain.SeriesKey) (bool, error)
	Series(ctx context.Context, key domain.SeriesKey) (*series.Series, error)
}

// Binder resolves slots against a catalog.
type Binder struct {
	catalog Catalog
	scope   Scope
	policy  Policy
}

// NewBinder creates a binder.
func NewBinder(catalog Catalog, scope Scope, policy Policy) *Binder {
	return &Binder{catalog: catalog, scope: scope, policy: policy}
}

// Bind resolves every slot and opens one shared reader per distinct input.
// Inputs requested by several consumers get the largest requested lookback.
func (b *Binder) Bind(ctx context.Context, slots []Slot) (*Binding, error) {
	reg := newRegistry()
	resolved := make(map[string][]Bound, len(slots))
	for _, slot := range slots {
		if _, dup := resolved[slot.Name]; dup {
			return nil, fmt.Errorf("slot %q: %w: declared twice", slot.Name, ErrTypeMismatch)
		}
		bounds, err := b.resolve(ctx, slot)
		if err != nil {
			return nil, err
		}
		resolved[slot.Name] = bounds
	}

	binding := &Binding{slots: make(map[string][]*ResolvedInput, len(slots))}
	for _, slot := range slots {
		for _, bound := range resolved[slot.Name] {
			binding.slots[slot.Name] = append(binding.slots[slot.Name], reg.request(bound, slot.lookback()))
		}
	}

	if err := reg.open(ctx, b.catalog); err != nil {
		return nil, err
	}
	binding.inputs = reg.order
	return binding, nil
}

// resolve rewrites the slot input until every element is Bound.
func (b *Binder) resolve(ctx context.Context, slot Slot) ([]Bound, error) {
	if slot.Input == nil {
		return nil, fmt.Errorf("slot %q: %w: no input", slot.Name, ErrTypeMismatch)
	}
	skip := b.policy == SkipMissing || slot.Optional

	items := []Input{slot.Input}
	for !allBound(items) {
		next := make([]Input, 0, len(items))
		progressed := false
		for _, item := range items {
			out, moved, err := b.rewrite(ctx, item, skip)
			if err != nil {
				return nil, fmt.Errorf("slot %q: %w", slot.Name, err)
			}
			progressed = progressed || moved
			next = append(next, out...)
		}
		if !progressed {
			return nil, fmt.Errorf("slot %q: %w", slot.Name, ErrUnresolvable)
		}
		items = next
	}

	bounds := make([]Bound, 0, len(items))
	for _, item := range items {
		bound := item.(Bound)
		ok, err := b.available(ctx, bound)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", slot.Name, err)
		}
		if !ok {
			if skip {
				continue
			}
			return nil, fmt.Errorf("slot %q: %w: %s", slot.Name, ErrMissingProducer, bound.Leaf())
		}
		bounds = append(bounds, bound)
	}

	want := slot.count()
	switch {
	case len(bounds) == 0 && slot.Optional:
		return nil, nil
	case b.policy == SkipMissing && len(bounds) > want:
		bounds = bounds[:want]
	case b.policy == SkipMissing && len(bounds) < want:
		if slot.Optional {
			return bounds, nil
		}
		return nil, fmt.Errorf("slot %q: %w: want %d producers, have %d", slot.Name, ErrMissingProducer, want, len(bounds))
	case len(bounds) != want:
		return nil, fmt.Errorf("slot %q: %w: want %d producers, have %d", slot.Name, ErrSlotCountMismatch, want, len(bounds))
	}
	return bounds, nil
}

// rewrite performs one resolution step on item.
func (b *Binder) rewrite(ctx context.Context, item Input, skip bool) ([]Input, bool, error) {
	switch in := item.(type) {
	case Bound:
		return []Input{in}, false, nil

	case Unbound:
		if in.Indicator == "" {
			return b.expand(ctx, in.Pattern, skip)
		}
		if err := checkIndicator(in.Indicator, in.Period); err != nil {
			return nil, false, err
		}
		switch src := in.Source.(type) {
		case Bound:
			return []Input{Bound{Indicator: in.Indicator, Period: in.Period, Source: &src}}, true, nil
		case Unbound:
			inner, moved, err := b.rewrite(ctx, src, skip)
			if err != nil {
				return nil, false, err
			}
			out := make([]Input, 0, len(inner))
			for _, s := range inner {
				out = append(out, Unbound{Indicator: in.Indicator, Period: in.Period, Source: s})
			}
			return out, moved, nil
		default:
			return nil, false, fmt.Errorf("%w: indicator %s has no source", ErrTypeMismatch, in.Indicator)
		}
	}
	return nil, false, fmt.Errorf("%w: %T", ErrTypeMismatch, item)
}

// expand turns a pattern into concrete leaves. Wildcard symbols follow
// the scope's symbol order.
func (b *Binder) expand(ctx context.Context, p Pattern, skip bool) ([]Input, bool, error) {
	if p.Aspect == "" {
		p.Aspect = domain.AspectClose
	}
	if !p.Aspect.IsValid() {
		return nil, false, fmt.Errorf("%w: aspect %q", ErrTypeMismatch, p.Aspect)
	}
	if p.Exchange == "" {
		p.Exchange = b.scope.Exchange
	}
	if p.Area == "" {
		p.Area = b.scope.Area
	}
	if p.Timeframe == "" {
		p.Timeframe = b.scope.Timeframe
	}
	symbols := []string{p.Symbol}
	if p.Symbol == "" {
		symbols = b.scope.Symbols
	}

	out := make([]Input, 0, len(symbols))
	for _, sym := range symbols {
		key := domain.SeriesKey{
			Exchange:  p.Exchange,
			Area:      p.Area,
			Symbol:    sym,
			Timeframe: p.Timeframe,
			Aspect:    p.Aspect,
		}
		ok, err := b.catalog.Available(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if skip {
				continue
			}
			return nil, false, fmt.Errorf("%w: %s", ErrMissingProducer, key)
		}
		out = append(out, Bound{Series: key})
	}
	return out, true, nil
}

func (b *Binder) available(ctx context.Context, bound Bound) (bool, error) {
	if !bound.IsLeaf() {
		if err := checkIndicator(bound.Indicator, bound.Period); err != nil {
			return false, err
		}
		if bound.Source == nil {
			return false, fmt.Errorf("%w: indicator %s has no source", ErrTypeMismatch, bound.Indicator)
		}
		return b.available(ctx, *bound.Source)
	}
	if !bound.Series.Aspect.IsValid() {
		return false, fmt.Errorf("%w: aspect %q", ErrTypeMismatch, bound.Series.Aspect)
	}
	return b.catalog.Available(ctx, bound.Series)
}

func checkIndicator(name string, period int) error {
	if _, err := indicator.Lookup(name); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	if period < 1 {
		return fmt.Errorf("%w: %s period %d", ErrTypeMismatch, name, period)
	}
	return nil
}

func allBound(items []Input) bool {
	for _, item := range items {
		if _, ok := item.(Bound); !ok {
			return false
		}
	}
	return true
}
