package series

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// Provider loads bars for one time range from a BarStore and caches them,
// so parallel backtests share one copy per market.
type Provider struct {
	store  storage.BarStore
	fromMs int64
	toMs   int64
	warmup time.Duration

	group  singleflight.Group
	mu     sync.RWMutex
	bars   map[domain.MarketKey][]domain.Bar
	series map[domain.SeriesKey]*Series
	exists map[domain.MarketKey]bool
}

// NewProvider creates a provider over [fromMs, toMs]. Series additionally
// include warmup of history before fromMs so indicators start primed.
func NewProvider(store storage.BarStore, fromMs, toMs int64, warmup time.Duration) *Provider {
	return &Provider{
		store:  store,
		fromMs: fromMs,
		toMs:   toMs,
		warmup: warmup,
		bars:   make(map[domain.MarketKey][]domain.Bar),
		series: make(map[domain.SeriesKey]*Series),
		exists: make(map[domain.MarketKey]bool),
	}
}

// Range returns the simulated range.
func (p *Provider) Range() (int64, int64) { return p.fromMs, p.toMs }

// Bars returns the bars of key within the simulated range, without warmup.
func (p *Provider) Bars(ctx context.Context, key domain.MarketKey) ([]domain.Bar, error) {
	all, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}
	for i, b := range all {
		if b.TimestampMs >= p.fromMs {
			return all[i:], nil
		}
	}
	return nil, nil
}

// Series returns the shared series of key, including warmup.
func (p *Provider) Series(ctx context.Context, key domain.SeriesKey) (*Series, error) {
	p.mu.RLock()
	s, ok := p.series[key]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	bars, err := p.load(ctx, key.Market())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.series[key]; ok {
		return s, nil
	}
	s = FromBars(key, bars)
	p.series[key] = s
	return s, nil
}

// Available reports whether the store holds data for the series' market.
func (p *Provider) Available(ctx context.Context, key domain.SeriesKey) (bool, error) {
	mk := key.Market()
	p.mu.RLock()
	ok, cached := p.exists[mk]
	p.mu.RUnlock()
	if cached {
		return ok, nil
	}

	ok, err := p.store.Exists(ctx, mk)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", mk, err)
	}
	p.mu.Lock()
	p.exists[mk] = ok
	p.mu.Unlock()
	return ok, nil
}

func (p *Provider) load(ctx context.Context, key domain.MarketKey) ([]domain.Bar, error) {
	p.mu.RLock()
	bars, ok := p.bars[key]
	p.mu.RUnlock()
	if ok {
		return bars, nil
	}

	v, err, _ := p.group.Do(key.String(), func() (interface{}, error) {
		start := p.fromMs - p.warmup.Milliseconds()
		bars, err := p.store.GetByTimeRange(ctx, key, start, p.toMs)
		if err != nil {
			return nil, fmt.Errorf("load bars %s: %w", key, err)
		}
		p.mu.Lock()
		p.bars[key] = bars
		p.mu.Unlock()
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Bar), nil
}
