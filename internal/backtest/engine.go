package backtest

import (
	"context"
	"sort"

	"backtest-lab/internal/binding"
	"backtest-lab/internal/holding"
	"backtest-lab/internal/market"
)

// Tier orders listeners within a bar. Lower tiers run first.
type Tier int

// Listener tiers.
const (
	TierMarketData Tier = 0
	TierBridge     Tier = 10
	TierAccount    Tier = 20
	TierIndicator  Tier = 30
	TierStrategy   Tier = 40
	TierObserver   Tier = 50
)

// Listener is invoked once per bar with the simulated time of the bar close.
type Listener interface {
	OnBar(ctx context.Context, now int64) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, now int64) error

// OnBar implements Listener.
func (f ListenerFunc) OnBar(ctx context.Context, now int64) error { return f(ctx, now) }

// Bot is a trading strategy driven by the loop.
type Bot interface {
	// Name returns the bot identifier.
	Name() string

	// Slots declares the inputs the bot reads.
	Slots() []binding.Slot

	// Bind hands the bot its resolved inputs and the account it trades.
	Bind(b *binding.Binding, account *holding.Account) error

	// OnBar is called once per bar after indicators are up to date.
	OnBar(ctx context.Context, now int64) error
}

type entry struct {
	tier     Tier
	seq      int
	listener Listener
}

// Loop drives listeners bar by bar over a market.
type Loop struct {
	market  *market.Market
	account *holding.Account
	entries []entry
	sorted  bool
	now     int64
	bars    int
}

// NewLoop creates a loop. The account may be nil when nothing can abort.
func NewLoop(m *market.Market, account *holding.Account) *Loop {
	return &Loop{market: m, account: account}
}

// Register adds a listener. Listeners of one tier run in registration order.
func (l *Loop) Register(tier Tier, li Listener) {
	l.entries = append(l.entries, entry{tier: tier, seq: len(l.entries), listener: li})
	l.sorted = false
}

// Now returns the current simulated time.
func (l *Loop) Now() int64 { return l.now }

// Bars returns the number of bars processed.
func (l *Loop) Bars() int { return l.bars }

// Run processes every bar. It stops early, without error, once the account aborts.
func (l *Loop) Run(ctx context.Context) error {
	if !l.sorted {
		sort.SliceStable(l.entries, func(i, j int) bool {
			if l.entries[i].tier != l.entries[j].tier {
				return l.entries[i].tier < l.entries[j].tier
			}
			return l.entries[i].seq < l.entries[j].seq
		})
		l.sorted = true
	}

	for l.market.Advance() {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := l.market.Now()
		for _, e := range l.entries {
			if err := e.listener.OnBar(ctx, now); err != nil {
				return err
			}
		}
		l.now = now
		l.bars++
		if l.account != nil && l.account.Aborted() {
			return nil
		}
	}
	return nil
}
