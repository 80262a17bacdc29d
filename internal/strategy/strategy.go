// Package strategy holds the bots an optimization can tune and the
// registry that builds them from a parameter set.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"backtest-lab/internal/backtest"
	"backtest-lab/internal/domain"
)

var (
	// ErrUnknownBot is returned for an unregistered bot name.
	ErrUnknownBot = errors.New("unknown bot")

	// ErrInvalidParameters marks a parameter set the bot cannot run with.
	// The optimizer skips such sets instead of failing the job.
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Factory builds a bot for one parameter set trading symbols.
type Factory func(params domain.ParameterSet, symbols []string) (backtest.Bot, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		"ma_cross": NewMACross,
		"breakout": NewBreakout,
	}
)

// Register adds or replaces a bot factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New builds the named bot.
func New(name string, params domain.ParameterSet, symbols []string) (backtest.Bot, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBot, name)
	}
	return f(params, symbols)
}

// Exists reports whether name is registered.
func Exists(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Names returns the registered bot names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// intParam reads a whole-number parameter with a lower bound.
func intParam(params domain.ParameterSet, name string, def, min int) (int, error) {
	v := params.Get(name, float64(def))
	n := int(v)
	if float64(n) != v {
		return 0, fmt.Errorf("%w: %s=%v is not a whole number", ErrInvalidParameters, name, v)
	}
	if n < min {
		return 0, fmt.Errorf("%w: %s=%d below %d", ErrInvalidParameters, name, n, min)
	}
	return n, nil
}

func fractionParam(params domain.ParameterSet) (float64, error) {
	f := params.Get("fraction", 1)
	if f <= 0 || f > 1 {
		return 0, fmt.Errorf("%w: fraction=%v outside (0,1]", ErrInvalidParameters, f)
	}
	return f, nil
}
