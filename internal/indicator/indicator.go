// Package indicator holds the pluggable numeric functions that turn a
// window of input values into one output value.
package indicator

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Func computes one value from a window, oldest first. The window length
// equals the indicator period.
type Func func(window []float64) float64

var (
	mu       sync.RWMutex
	registry = map[string]Func{
		"sma":     SMA,
		"ema":     EMA,
		"highest": Highest,
		"lowest":  Lowest,
		"stddev":  StdDev,
		"roc":     RateOfChange,
	}
)

// Register adds or replaces an indicator.
func Register(name string, f Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Lookup returns the named indicator.
func Lookup(name string) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
	return f, nil
}

// Names returns the registered indicator names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SMA is the arithmetic mean.
func SMA(w []float64) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// EMA is the exponential moving average seeded with the oldest value,
// alpha = 2/(n+1).
func EMA(w []float64) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	alpha := 2 / float64(len(w)+1)
	ema := w[0]
	for _, v := range w[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// Highest is the window maximum.
func Highest(w []float64) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	m := w[0]
	for _, v := range w[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Lowest is the window minimum.
func Lowest(w []float64) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	m := w[0]
	for _, v := range w[1:] {
		m = math.Min(m, v)
	}
	return m
}

// StdDev is the population standard deviation.
func StdDev(w []float64) float64 {
	if len(w) == 0 {
		return math.NaN()
	}
	mean := SMA(w)
	ss := 0.0
	for _, v := range w {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(w)))
}

// RateOfChange is (latest - oldest) / oldest.
func RateOfChange(w []float64) float64 {
	if len(w) < 2 || w[0] == 0 {
		return 0
	}
	return (w[len(w)-1] - w[0]) / w[0]
}
