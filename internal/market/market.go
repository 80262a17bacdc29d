// Package market replays the traded bars of a backtest and answers price
// queries at the current simulated time.
package market

import (
	"fmt"
	"sort"

	"backtest-lab/internal/domain"
)

// Market is the simulated market of one backtest. Not safe for concurrent use.
type Market struct {
	symbols  []string
	bars     map[string][]domain.Bar
	pos      map[string]int // index of the latest opened bar, -1 before the first
	timeline []int64        // union of bar open times
	step     int
	barMs    int64
}

// New creates a market over the bars of each symbol. Bars must be sorted by time.
func New(tf domain.Timeframe, bars map[string][]domain.Bar, symbols []string) (*Market, error) {
	barMs := tf.Duration().Milliseconds()
	if barMs <= 0 {
		return nil, fmt.Errorf("market: unknown timeframe %q", tf)
	}

	m := &Market{
		symbols: append([]string(nil), symbols...),
		bars:    make(map[string][]domain.Bar, len(symbols)),
		pos:     make(map[string]int, len(symbols)),
		step:    -1,
		barMs:   barMs,
	}
	seen := make(map[int64]struct{})
	for _, sym := range symbols {
		bs := bars[sym]
		for i := 1; i < len(bs); i++ {
			if bs[i].TimestampMs <= bs[i-1].TimestampMs {
				return nil, fmt.Errorf("market: %s bars not strictly increasing at %d", sym, bs[i].TimestampMs)
			}
		}
		m.bars[sym] = bs
		m.pos[sym] = -1
		for _, b := range bs {
			if _, ok := seen[b.TimestampMs]; !ok {
				seen[b.TimestampMs] = struct{}{}
				m.timeline = append(m.timeline, b.TimestampMs)
			}
		}
	}
	sort.Slice(m.timeline, func(i, j int) bool { return m.timeline[i] < m.timeline[j] })
	return m, nil
}

// Symbols returns the traded symbols.
func (m *Market) Symbols() []string { return m.symbols }

// Len returns the number of steps.
func (m *Market) Len() int { return len(m.timeline) }

// Step returns the index of the current step, -1 before the first Advance.
func (m *Market) Step() int { return m.step }

// Advance moves to the next bar open. It returns false once the timeline is exhausted.
func (m *Market) Advance() bool {
	if m.step+1 >= len(m.timeline) {
		return false
	}
	m.step++
	t := m.timeline[m.step]
	for _, sym := range m.symbols {
		bs := m.bars[sym]
		p := m.pos[sym]
		for p+1 < len(bs) && bs[p+1].TimestampMs <= t {
			p++
		}
		m.pos[sym] = p
	}
	return true
}

// OpenTime returns the open time of the current step.
func (m *Market) OpenTime() int64 {
	if m.step < 0 {
		return 0
	}
	return m.timeline[m.step]
}

// Now returns the simulated time once the current bar has closed.
func (m *Market) Now() int64 {
	if m.step < 0 {
		return 0
	}
	return m.timeline[m.step] + m.barMs
}

// Start returns the open time of the first step.
func (m *Market) Start() int64 {
	if len(m.timeline) == 0 {
		return 0
	}
	return m.timeline[0]
}

// End returns the close time of the last step.
func (m *Market) End() int64 {
	if len(m.timeline) == 0 {
		return 0
	}
	return m.timeline[len(m.timeline)-1] + m.barMs
}

// Current returns the latest bar of symbol opened at or before the current step.
func (m *Market) Current(symbol string) (domain.Bar, bool) {
	p, ok := m.pos[symbol]
	if !ok || p < 0 {
		return domain.Bar{}, false
	}
	return m.bars[symbol][p], true
}

// Fresh reports whether symbol has a bar opening exactly at the current step.
func (m *Market) Fresh(symbol string) bool {
	b, ok := m.Current(symbol)
	return ok && b.TimestampMs == m.OpenTime()
}

// Price returns the close of the current bar of symbol.
func (m *Market) Price(symbol string) (float64, bool) {
	b, ok := m.Current(symbol)
	if !ok {
		return 0, false
	}
	return b.Close, true
}

// OpenPrice returns the open of symbol's bar at the current step. Symbols
// without a bar at this step have no fill price.
func (m *Market) OpenPrice(symbol string) (float64, bool) {
	if !m.Fresh(symbol) {
		return 0, false
	}
	b, _ := m.Current(symbol)
	return b.Open, true
}

// Window returns up to n most recent bars of symbol, oldest first.
func (m *Market) Window(symbol string, n int) []domain.Bar {
	p, ok := m.pos[symbol]
	if !ok || p < 0 || n <= 0 {
		return nil
	}
	from := p + 1 - n
	if from < 0 {
		from = 0
	}
	out := make([]domain.Bar, p+1-from)
	copy(out, m.bars[symbol][from:p+1])
	return out
}
