package holding

import (
	"context"
	"fmt"
	"time"
)

// Side of an order.
type Side string

// Order sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is a market order. Buys spend Fraction of the symbol's balance;
// sells close the whole open position.
type Order struct {
	Symbol   string
	Side     Side
	Fraction float64
}

// Position is an open long position.
type Position struct {
	Symbol      string
	Quantity    float64
	EntryPrice  float64
	EntryTimeMs int64
}

// Trade is one fill.
type Trade struct {
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Fee         float64 `json:"fee"`
	PnL         float64 `json:"pnl"` // realized, sells only
	TimestampMs int64   `json:"timestamp_ms"`
}

// PriceSource returns the latest known price of a symbol.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// AccountConfig configures a simulated account.
type AccountConfig struct {
	Symbols        []string
	InitialBalance float64 // split equally across symbols
	Protection     *ProtectionPolicy
	FeeRate        float64 // fraction of notional per fill
}

// Stats are the derived analytics of an account.
type Stats struct {
	ROI                float64
	AnnualizedROI      float64
	ROIToDrawdown      float64
	MaxBalanceDrawdown float64
	MaxEquityDrawdown  float64
	FinalBalance       float64
	FinalEquity        float64
}

// Account owns one holding per symbol and the open positions. It is the
// abort sink of its holdings; the first abort wins.
type Account struct {
	symbols   []string
	holdings  map[string]*Holding
	total     *Holding
	positions map[string]*Position
	pending   []Order
	trades    []Trade
	feeRate   float64
	prices    PriceSource

	aborted     bool
	reason      AbortReason
	abortSymbol string
}

// NewAccount creates an account priced by prices.
func NewAccount(cfg AccountConfig, prices PriceSource) (*Account, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("account: no symbols")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("account: initial balance must be positive, got %v", cfg.InitialBalance)
	}

	a := &Account{
		symbols:   append([]string(nil), cfg.Symbols...),
		holdings:  make(map[string]*Holding, len(cfg.Symbols)),
		positions: make(map[string]*Position),
		feeRate:   cfg.FeeRate,
		prices:    prices,
	}
	share := cfg.InitialBalance / float64(len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if _, dup := a.holdings[sym]; dup {
			return nil, fmt.Errorf("account: duplicate symbol %q", sym)
		}
		a.holdings[sym] = New(sym, share, cfg.Protection, a)
	}
	a.total = New("", cfg.InitialBalance, nil, nil)
	return a, nil
}

// Abort implements AbortSink.
func (a *Account) Abort(symbol string, reason AbortReason) {
	if a.aborted {
		return
	}
	a.aborted = true
	a.reason = reason
	a.abortSymbol = symbol
}

// Aborted reports whether any holding aborted the run.
func (a *Account) Aborted() bool { return a.aborted }

// AbortReason returns the first abort reason and the symbol that raised it.
func (a *Account) AbortReason() (AbortReason, string) { return a.reason, a.abortSymbol }

// Symbols returns the traded symbols in configuration order.
func (a *Account) Symbols() []string { return a.symbols }

// Holding returns the holding of symbol, or nil.
func (a *Account) Holding(symbol string) *Holding { return a.holdings[symbol] }

// Total returns the account-wide ledger.
func (a *Account) Total() *Holding { return a.total }

// Position returns the open position of symbol.
func (a *Account) Position(symbol string) (Position, bool) {
	p, ok := a.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Trades returns the fills so far.
func (a *Account) Trades() []Trade { return a.trades }

// Submit queues a market order for the next fill pass.
func (a *Account) Submit(o Order) {
	if a.aborted {
		return
	}
	a.pending = append(a.pending, o)
}

// FillPending fills queued orders at the given prices. Orders on symbols
// without a price stay queued.
func (a *Account) FillPending(now int64, price func(symbol string) (float64, bool)) {
	if len(a.pending) == 0 {
		return
	}
	remaining := a.pending[:0]
	for _, o := range a.pending {
		p, ok := price(o.Symbol)
		if !ok || p <= 0 {
			remaining = append(remaining, o)
			continue
		}
		a.fill(o, p, now)
	}
	a.pending = remaining
}

func (a *Account) fill(o Order, price float64, now int64) {
	h := a.holdings[o.Symbol]
	if h == nil || a.aborted {
		return
	}

	switch o.Side {
	case SideBuy:
		if _, open := a.positions[o.Symbol]; open {
			return
		}
		frac := o.Fraction
		if frac <= 0 || frac > 1 {
			frac = 1
		}
		notional := h.Balance().Current * frac
		if notional <= 0 {
			return
		}
		fee := notional * a.feeRate
		qty := (notional - fee) / price
		a.applyDelta(h, -fee)
		a.positions[o.Symbol] = &Position{Symbol: o.Symbol, Quantity: qty, EntryPrice: price, EntryTimeMs: now}
		a.trades = append(a.trades, Trade{Symbol: o.Symbol, Side: SideBuy, Quantity: qty, Price: price, Fee: fee, TimestampMs: now})

	case SideSell:
		pos, open := a.positions[o.Symbol]
		if !open {
			return
		}
		pnl := pos.Quantity * (price - pos.EntryPrice)
		fee := pos.Quantity * price * a.feeRate
		delete(a.positions, o.Symbol)
		a.applyDelta(h, pnl-fee)
		a.trades = append(a.trades, Trade{Symbol: o.Symbol, Side: SideSell, Quantity: pos.Quantity, Price: price, Fee: fee, PnL: pnl, TimestampMs: now})
	}
}

func (a *Account) applyDelta(h *Holding, amount float64) {
	h.ApplyBalanceDelta(amount)
	a.total.ApplyBalanceDelta(amount)
}

// OnBar marks equity of every holding at the latest prices.
func (a *Account) OnBar(_ context.Context, _ int64) error {
	sum := 0.0
	for _, sym := range a.symbols {
		h := a.holdings[sym]
		eq := h.Balance().Current
		if pos, open := a.positions[sym]; open {
			if p, ok := a.prices.Price(sym); ok {
				eq += pos.Quantity * (p - pos.EntryPrice)
			}
		}
		h.MarkEquity(eq)
		sum += eq
	}
	a.total.MarkEquity(sum)
	return nil
}

// Stats derives the account analytics over the elapsed simulated duration.
func (a *Account) Stats(elapsed time.Duration) Stats {
	return Stats{
		ROI:                a.total.ROI(),
		AnnualizedROI:      a.total.AnnualizedROI(elapsed),
		ROIToDrawdown:      a.total.AnnualizedROIToMaxDrawdown(elapsed),
		MaxBalanceDrawdown: a.total.Balance().MaxDrawdownFrac,
		MaxEquityDrawdown:  a.total.Equity().MaxDrawdownFrac,
		FinalBalance:       a.total.Balance().Current,
		FinalEquity:        a.total.Equity().Current,
	}
}
