package binding

import (
	"context"
	"fmt"

	"backtest-lab/internal/indicator"
	"backtest-lab/internal/series"
)

// ResolvedInput is one shared reader. Every consumer bound to the same
// identity holds the same pointer.
type ResolvedInput struct {
	series.Reader

	Key      string
	Bound    Bound
	Lookback int // largest window any consumer requested

	cursor *series.Cursor
	node   *indicatorNode
}

// IsIndicator reports whether the input is computed rather than read.
func (r *ResolvedInput) IsIndicator() bool { return r.node != nil }

// OnBar advances the input to simulated time now.
func (r *ResolvedInput) OnBar(_ context.Context, now int64) error {
	if r.cursor != nil {
		r.cursor.Advance(now)
		return nil
	}
	r.node.update()
	return nil
}

// indicatorNode recomputes when its source receives a new value.
type indicatorNode struct {
	ring   *series.Ring
	src    series.Reader
	fn     indicator.Func
	period int
	seen   int64
}

func (n *indicatorNode) update() {
	if n.src.Count() == n.seen {
		return
	}
	n.seen = n.src.Count()
	if n.src.Len() < n.period {
		return
	}
	w := n.src.Window()
	n.ring.Push(n.fn(w[len(w)-n.period:]))
}

// Binding is the result of Bind.
type Binding struct {
	slots  map[string][]*ResolvedInput
	inputs []*ResolvedInput
}

// Slot returns the producers bound to name, in resolution order.
func (b *Binding) Slot(name string) []*ResolvedInput {
	return b.slots[name]
}

// One returns the single producer of name, or nil when the slot is empty.
func (b *Binding) One(name string) *ResolvedInput {
	if in := b.slots[name]; len(in) > 0 {
		return in[0]
	}
	return nil
}

// Inputs returns every distinct input, sources before their dependents.
func (b *Binding) Inputs() []*ResolvedInput {
	return b.inputs
}

type registry struct {
	byKey map[string]*ResolvedInput
	order []*ResolvedInput
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]*ResolvedInput)}
}

// request registers bound and its sources. An indicator needs Period values
// of its source.
func (r *registry) request(bound Bound, lookback int) *ResolvedInput {
	if !bound.IsLeaf() {
		r.request(*bound.Source, bound.Period)
	}
	key := bound.Key()
	in, ok := r.byKey[key]
	if !ok {
		in = &ResolvedInput{Key: key, Bound: bound}
		r.byKey[key] = in
		r.order = append(r.order, in)
	}
	if lookback > in.Lookback {
		in.Lookback = lookback
	}
	return in
}

// open allocates readers once all lookbacks are known.
func (r *registry) open(ctx context.Context, catalog Catalog) error {
	for _, in := range r.order {
		if in.Bound.IsLeaf() {
			s, err := catalog.Series(ctx, in.Bound.Series)
			if err != nil {
				return fmt.Errorf("open %s: %w", in.Key, err)
			}
			in.cursor = series.NewCursor(s, in.Lookback)
			in.Reader = in.cursor
			continue
		}
		fn, err := indicator.Lookup(in.Bound.Indicator)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		src := r.byKey[in.Bound.Source.Key()]
		ring := series.NewRing(in.Lookback)
		in.node = &indicatorNode{ring: ring, src: src, fn: fn, period: in.Bound.Period}
		in.Reader = ring
	}
	return nil
}
