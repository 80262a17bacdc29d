package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[domain.MarketKey][]domain.Bar // sorted by timestamp
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[domain.MarketKey][]domain.Bar),
	}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds bars for one market. Fails entire batch on duplicate timestamp.
func (s *BarStore) InsertBulk(_ context.Context, key domain.MarketKey, bars []domain.Bar) error {
	if key.Symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[key]
	seen := make(map[int64]struct{}, len(existing)+len(bars))
	for _, b := range existing {
		seen[b.TimestampMs] = struct{}{}
	}
	for _, b := range bars {
		if _, dup := seen[b.TimestampMs]; dup {
			return storage.ErrDuplicateKey
		}
		seen[b.TimestampMs] = struct{}{}
	}

	merged := make([]domain.Bar, 0, len(existing)+len(bars))
	merged = append(merged, existing...)
	merged = append(merged, bars...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].TimestampMs < merged[j].TimestampMs
	})
	s.data[key] = merged
	return nil
}

// GetByTimeRange retrieves bars within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, key domain.MarketKey, start, end int64) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.data[key]
	lo := sort.Search(len(bars), func(i int) bool { return bars[i].TimestampMs >= start })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].TimestampMs > end })
	if lo >= hi {
		return nil, nil
	}

	result := make([]domain.Bar, hi-lo)
	copy(result, bars[lo:hi])
	return result, nil
}

// Exists reports whether any bar is stored for the market.
func (s *BarStore) Exists(_ context.Context, key domain.MarketKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key]) > 0, nil
}
