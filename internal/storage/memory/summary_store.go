package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// SummaryStore is an in-memory implementation of storage.SummaryStore.
type SummaryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*domain.BacktestSummary // job_id -> parameter_id -> summary
}

// NewSummaryStore creates a new in-memory summary store.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{
		data: make(map[string]map[string]*domain.BacktestSummary),
	}
}

// Compile-time interface check.
var _ storage.SummaryStore = (*SummaryStore)(nil)

// InsertBulk adds summaries. Fails entire batch on duplicate (job_id, parameter_id).
func (s *SummaryStore) InsertBulk(_ context.Context, summaries []*domain.BacktestSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ job, param string }
	batch := make(map[key]struct{}, len(summaries))
	for _, sum := range summaries {
		if sum == nil || sum.JobID == "" || sum.ParameterID == "" {
			return storage.ErrInvalidInput
		}
		k := key{sum.JobID, sum.ParameterID}
		if _, dup := batch[k]; dup {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.data[sum.JobID][sum.ParameterID]; exists {
			return storage.ErrDuplicateKey
		}
		batch[k] = struct{}{}
	}

	for _, sum := range summaries {
		byParam, ok := s.data[sum.JobID]
		if !ok {
			byParam = make(map[string]*domain.BacktestSummary)
			s.data[sum.JobID] = byParam
		}
		summaryCopy := *sum
		byParam[sum.ParameterID] = &summaryCopy
	}
	return nil
}

// GetByJobID retrieves all summaries of a job, ordered by parameter_id ASC.
func (s *SummaryStore) GetByJobID(_ context.Context, jobID string) ([]*domain.BacktestSummary, error) {
	result := s.copyJob(jobID)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ParameterID < result[j].ParameterID
	})
	return result, nil
}

// TopByFitness retrieves the best summaries of a job, ordered by fitness DESC.
func (s *SummaryStore) TopByFitness(_ context.Context, jobID string, limit int) ([]*domain.BacktestSummary, error) {
	result := s.copyJob(jobID)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Fitness != result[j].Fitness {
			return result[i].Fitness > result[j].Fitness
		}
		return result[i].ParameterID < result[j].ParameterID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ClearRetained marks stored summaries of a job as no longer retained.
func (s *SummaryStore) ClearRetained(_ context.Context, jobID string, parameterIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range parameterIDs {
		if sum, ok := s.data[jobID][id]; ok {
			sum.Retained = false
		}
	}
	return nil
}

func (s *SummaryStore) copyJob(jobID string) []*domain.BacktestSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.BacktestSummary, 0, len(s.data[jobID]))
	for _, sum := range s.data[jobID] {
		summaryCopy := *sum
		result = append(result, &summaryCopy)
	}
	return result
}
