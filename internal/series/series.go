// Package series loads bar data once and exposes it to backtests through
// per-backtest sliding-window cursors.
package series

import (
	"backtest-lab/internal/domain"
)

// Series is an immutable loaded time series. It is shared read-only by
// every backtest that binds the same key.
type Series struct {
	Key         domain.SeriesKey
	AvailableAt []int64   // Unix ms at which each value becomes known (bar close)
	Values      []float64 // aspect values, same length as AvailableAt
}

// FromBars extracts one aspect of bars. A bar is known once it closes.
func FromBars(key domain.SeriesKey, bars []domain.Bar) *Series {
	dur := key.Timeframe.Duration().Milliseconds()
	s := &Series{
		Key:         key,
		AvailableAt: make([]int64, len(bars)),
		Values:      make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.AvailableAt[i] = b.TimestampMs + dur
		s.Values[i] = key.Aspect.Value(b)
	}
	return s
}

// Len returns the number of values.
func (s *Series) Len() int { return len(s.Values) }

// Reader is a sliding window over the most recent values of a series.
type Reader interface {
	// Value returns the i-th most recent value (0 is the latest).
	Value(i int) float64
	// Window returns the buffered values, oldest first.
	Window() []float64
	// Len returns the number of buffered values.
	Len() int
	// Capacity returns the window size.
	Capacity() int
	// Ready reports whether the window is full.
	Ready() bool
	// Count returns how many values were ever pushed.
	Count() int64
}

// Ring is a fixed-capacity buffer of the latest values.
type Ring struct {
	buf   []float64
	head  int // next write position
	size  int
	count int64
}

// NewRing creates a ring of the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.count++
}

// Value returns the i-th most recent value; it panics when i >= Len.
func (r *Ring) Value(i int) float64 {
	if i < 0 || i >= r.size {
		panic("series: window index out of range")
	}
	idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

// Window returns a copy of the buffered values, oldest first.
func (r *Ring) Window() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.Value(r.size - 1 - i)
	}
	return out
}

// Len returns the number of buffered values.
func (r *Ring) Len() int { return r.size }

// Capacity returns the window size.
func (r *Ring) Capacity() int { return len(r.buf) }

// Ready reports whether the window is full.
func (r *Ring) Ready() bool { return r.size == len(r.buf) }

// Count returns how many values were ever pushed.
func (r *Ring) Count() int64 { return r.count }

// Cursor replays a Series into a window as simulated time advances.
// It is owned by one backtest.
type Cursor struct {
	*Ring
	series *Series
	next   int
}

// NewCursor creates a cursor with the given lookback.
func NewCursor(s *Series, lookback int) *Cursor {
	return &Cursor{Ring: NewRing(lookback), series: s}
}

// Key returns the underlying series key.
func (c *Cursor) Key() domain.SeriesKey { return c.series.Key }

// Advance pushes every value known at now. Returns how many were pushed.
func (c *Cursor) Advance(now int64) int {
	pushed := 0
	for c.next < len(c.series.Values) && c.series.AvailableAt[c.next] <= now {
		c.Ring.Push(c.series.Values[c.next])
		c.next++
		pushed++
	}
	return pushed
}

var _ Reader = (*Cursor)(nil)
