package strategy

import (
	"context"

	"backtest-lab/internal/backtest"
	"backtest-lab/internal/binding"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
)

// Breakout buys a close above the prior channel high and exits on a close
// below the prior channel low.
//
// Parameters: entry (channel length, default 20), exit (default 10), fraction.
type Breakout struct {
	entry, exit int
	fraction    float64
	symbols     []string

	account *holding.Account
	inputs  map[string]*breakoutInputs
}

type breakoutInputs struct {
	close, high, low *binding.ResolvedInput
}

// NewBreakout builds a Breakout bot.
func NewBreakout(params domain.ParameterSet, symbols []string) (backtest.Bot, error) {
	entry, err := intParam(params, "entry", 20, 2)
	if err != nil {
		return nil, err
	}
	exit, err := intParam(params, "exit", 10, 2)
	if err != nil {
		return nil, err
	}
	fraction, err := fractionParam(params)
	if err != nil {
		return nil, err
	}
	return &Breakout{entry: entry, exit: exit, fraction: fraction, symbols: symbols}, nil
}

// Name implements backtest.Bot.
func (b *Breakout) Name() string { return "breakout" }

// Slots implements backtest.Bot.
func (b *Breakout) Slots() []binding.Slot {
	n := len(b.symbols)
	return []binding.Slot{
		{Name: "close", Input: binding.Series(binding.Pattern{Aspect: domain.AspectClose}), Count: n},
		{Name: "high", Input: binding.Indicator("highest", b.entry, binding.Series(binding.Pattern{Aspect: domain.AspectHigh})), Lookback: 2, Count: n},
		{Name: "low", Input: binding.Indicator("lowest", b.exit, binding.Series(binding.Pattern{Aspect: domain.AspectLow})), Lookback: 2, Count: n},
	}
}

// Bind implements backtest.Bot.
func (b *Breakout) Bind(bd *binding.Binding, account *holding.Account) error {
	b.account = account
	b.inputs = make(map[string]*breakoutInputs, len(b.symbols))
	get := func(sym string) *breakoutInputs {
		in, ok := b.inputs[sym]
		if !ok {
			in = &breakoutInputs{}
			b.inputs[sym] = in
		}
		return in
	}
	for _, in := range bd.Slot("close") {
		get(in.Bound.Leaf().Symbol).close = in
	}
	for _, in := range bd.Slot("high") {
		get(in.Bound.Leaf().Symbol).high = in
	}
	for _, in := range bd.Slot("low") {
		get(in.Bound.Leaf().Symbol).low = in
	}
	return nil
}

// OnBar implements backtest.Bot.
func (b *Breakout) OnBar(_ context.Context, _ int64) error {
	for _, sym := range b.symbols {
		in, ok := b.inputs[sym]
		if !ok || in.close == nil || in.close.Len() == 0 {
			continue
		}
		c := in.close.Value(0)
		_, open := b.account.Position(sym)
		switch {
		case !open && in.high != nil && in.high.Ready() && c > in.high.Value(1):
			b.account.Submit(holding.Order{Symbol: sym, Side: holding.SideBuy, Fraction: b.fraction})
		case open && in.low != nil && in.low.Ready() && c < in.low.Value(1):
			b.account.Submit(holding.Order{Symbol: sym, Side: holding.SideSell})
		}
	}
	return nil
}
