// Package holding implements the simulated balance/equity ledger of an
// account, its drawdown bookkeeping and the drawdown abort trigger.
package holding

import "math"

// AbortReason explains why a simulation stopped early.
type AbortReason string

// Abort reasons.
const (
	AbortBalanceDrawdown AbortReason = "BalanceDrawdown"
)

// AbortSink receives the abort signal of a holding.
type AbortSink interface {
	Abort(symbol string, reason AbortReason)
}

// ProtectionPolicy aborts the run once the fractional balance drawdown
// exceeds MaxBalanceDrawdown (e.g. 0.25 for 25%).
type ProtectionPolicy struct {
	MaxBalanceDrawdown float64
}

// Ledger tracks one value (balance or equity) against its running peak.
type Ledger struct {
	Initial         float64
	Current         float64
	Highest         float64 // never decreases
	Drawdown        float64 // Highest - Current, >= 0
	DrawdownFrac    float64 // Drawdown / Highest
	MaxDrawdown     float64 // never decreases
	MaxDrawdownFrac float64 // never decreases
}

func newLedger(initial float64) Ledger {
	return Ledger{Initial: initial, Current: initial, Highest: initial}
}

func (l *Ledger) set(v float64) {
	l.Current = v
	if v > l.Highest {
		l.Highest = v
	}
	l.Drawdown = l.Highest - v
	if l.Highest > 0 {
		l.DrawdownFrac = l.Drawdown / l.Highest
	} else {
		l.DrawdownFrac = 0
	}
	l.MaxDrawdown = math.Max(l.MaxDrawdown, l.Drawdown)
	l.MaxDrawdownFrac = math.Max(l.MaxDrawdownFrac, l.DrawdownFrac)
}

// Holding is the simulated ledger of one asset within an account.
// It is owned by a single backtest and is not safe for concurrent use.
type Holding struct {
	symbol  string
	balance Ledger
	equity  Ledger
	policy  *ProtectionPolicy
	sink    AbortSink
	aborted bool
	reason  AbortReason
}

// New creates a holding with the given starting balance. policy and sink may be nil.
func New(symbol string, initial float64, policy *ProtectionPolicy, sink AbortSink) *Holding {
	return &Holding{
		symbol:  symbol,
		balance: newLedger(initial),
		equity:  newLedger(initial),
		policy:  policy,
		sink:    sink,
	}
}

// Symbol returns the asset symbol.
func (h *Holding) Symbol() string { return h.symbol }

// Balance returns a snapshot of the balance ledger.
func (h *Holding) Balance() Ledger { return h.balance }

// Equity returns a snapshot of the equity ledger.
func (h *Holding) Equity() Ledger { return h.equity }

// Aborted reports whether the protection policy fired, and why.
func (h *Holding) Aborted() (bool, AbortReason) { return h.aborted, h.reason }

// ApplyBalanceDelta adds amount (negative for losses and fees) to the balance.
func (h *Holding) ApplyBalanceDelta(amount float64) {
	h.balance.set(h.balance.Current + amount)
	h.checkProtection()
}

// MarkEquity sets the current equity (balance plus open position value).
func (h *Holding) MarkEquity(value float64) {
	h.equity.set(value)
}

func (h *Holding) checkProtection() {
	if h.aborted || h.policy == nil || h.policy.MaxBalanceDrawdown <= 0 {
		return
	}
	if h.balance.DrawdownFrac > h.policy.MaxBalanceDrawdown {
		h.aborted = true
		h.reason = AbortBalanceDrawdown
		if h.sink != nil {
			h.sink.Abort(h.symbol, AbortBalanceDrawdown)
		}
	}
}
