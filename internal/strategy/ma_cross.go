package strategy

import (
	"context"
	"fmt"

	"backtest-lab/internal/backtest"
	"backtest-lab/internal/binding"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
)

// MACross goes long when the fast moving average crosses above the slow
// one and exits on the opposite cross.
//
// Parameters: fast (default 10), slow (default 30), fraction (default 1),
// ema (non-zero selects exponential averages).
type MACross struct {
	fast, slow int
	fraction   float64
	kind       string
	symbols    []string

	account *holding.Account
	pairs   map[string]maPair
}

type maPair struct {
	fast, slow *binding.ResolvedInput
}

// NewMACross builds an MACross bot.
func NewMACross(params domain.ParameterSet, symbols []string) (backtest.Bot, error) {
	fast, err := intParam(params, "fast", 10, 1)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow", 30, 2)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast=%d must be below slow=%d", ErrInvalidParameters, fast, slow)
	}
	fraction, err := fractionParam(params)
	if err != nil {
		return nil, err
	}
	kind := "sma"
	if params.Get("ema", 0) != 0 {
		kind = "ema"
	}
	return &MACross{fast: fast, slow: slow, fraction: fraction, kind: kind, symbols: symbols}, nil
}

// Name implements backtest.Bot.
func (b *MACross) Name() string { return "ma_cross" }

// Slots implements backtest.Bot.
func (b *MACross) Slots() []binding.Slot {
	closes := binding.Series(binding.Pattern{Aspect: domain.AspectClose})
	return []binding.Slot{
		{Name: "fast", Input: binding.Indicator(b.kind, b.fast, closes), Lookback: 2, Count: len(b.symbols)},
		{Name: "slow", Input: binding.Indicator(b.kind, b.slow, closes), Lookback: 2, Count: len(b.symbols)},
	}
}

// Bind implements backtest.Bot.
func (b *MACross) Bind(bd *binding.Binding, account *holding.Account) error {
	b.account = account
	b.pairs = make(map[string]maPair, len(b.symbols))
	for _, in := range bd.Slot("fast") {
		p := b.pairs[in.Bound.Leaf().Symbol]
		p.fast = in
		b.pairs[in.Bound.Leaf().Symbol] = p
	}
	for _, in := range bd.Slot("slow") {
		p := b.pairs[in.Bound.Leaf().Symbol]
		p.slow = in
		b.pairs[in.Bound.Leaf().Symbol] = p
	}
	return nil
}

// OnBar implements backtest.Bot.
func (b *MACross) OnBar(_ context.Context, _ int64) error {
	for _, sym := range b.symbols {
		p, ok := b.pairs[sym]
		if !ok || p.fast == nil || p.slow == nil || !p.fast.Ready() || !p.slow.Ready() {
			continue
		}
		prev := p.fast.Value(1) - p.slow.Value(1)
		cur := p.fast.Value(0) - p.slow.Value(0)
		_, open := b.account.Position(sym)
		switch {
		case prev <= 0 && cur > 0 && !open:
			b.account.Submit(holding.Order{Symbol: sym, Side: holding.SideBuy, Fraction: b.fraction})
		case prev >= 0 && cur < 0 && open:
			b.account.Submit(holding.Order{Symbol: sym, Side: holding.SideSell})
		}
	}
	return nil
}
