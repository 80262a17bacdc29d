package optimizer

import (
	"encoding/json"
	"errors"
	"fmt"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/strategy"
)

// ErrInvalidSpec is returned when a job's parameters do not describe a sweep.
var ErrInvalidSpec = errors.New("invalid optimization spec")

const (
	defaultTopN      = 10
	defaultBatchSize = 64
)

// DecodeSpec parses and validates the parameter blob of a job.
func DecodeSpec(data []byte) (*domain.OptimizationSpec, error) {
	var spec domain.OptimizationSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := ValidateSpec(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// EncodeSpec validates spec and serializes it for the queue.
func EncodeSpec(spec *domain.OptimizationSpec) ([]byte, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	return json.Marshal(spec)
}

// ValidateSpec checks spec and fills in defaults.
func ValidateSpec(spec *domain.OptimizationSpec) error {
	switch {
	case !strategy.Exists(spec.Bot):
		return fmt.Errorf("%w: %w %q", ErrInvalidSpec, strategy.ErrUnknownBot, spec.Bot)
	case len(spec.Symbols) == 0:
		return fmt.Errorf("%w: no symbols", ErrInvalidSpec)
	case spec.Timeframe.Duration() <= 0:
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidSpec, spec.Timeframe)
	case spec.ToMs <= spec.FromMs:
		return fmt.Errorf("%w: empty time range", ErrInvalidSpec)
	case spec.InitialBalance <= 0:
		return fmt.Errorf("%w: initial balance must be positive", ErrInvalidSpec)
	case spec.DrawdownAbort < 0 || spec.DrawdownAbort >= 1:
		return fmt.Errorf("%w: drawdown abort must be in [0,1)", ErrInvalidSpec)
	case len(spec.Ranges) == 0:
		return fmt.Errorf("%w: no parameter ranges", ErrInvalidSpec)
	}
	if _, err := LookupFitness(spec.Fitness); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if spec.TopN <= 0 {
		spec.TopN = defaultTopN
	}
	if spec.BatchSize <= 0 {
		spec.BatchSize = defaultBatchSize
	}
	return nil
}
