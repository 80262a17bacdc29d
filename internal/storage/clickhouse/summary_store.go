package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// SummaryStore implements storage.SummaryStore using ClickHouse.
type SummaryStore struct {
	conn *Conn
}

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(conn *Conn) *SummaryStore {
	return &SummaryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SummaryStore = (*SummaryStore)(nil)

const summaryColumns = `
	job_id, parameter_id, parameters, fitness, roi, annualized_roi,
	max_balance_drawdown, max_equity_drawdown, aborted, abort_reason,
	bars, trades, win_rate, retained, created_at
`

// InsertBulk adds summaries. Fails entire batch on duplicate (job_id, parameter_id).
func (s *SummaryStore) InsertBulk(ctx context.Context, summaries []*domain.BacktestSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	type key struct{ job, param string }
	seen := make(map[key]struct{}, len(summaries))
	jobs := make(map[string]struct{})
	for _, sum := range summaries {
		if sum == nil || sum.JobID == "" || sum.ParameterID == "" {
			return storage.ErrInvalidInput
		}
		k := key{sum.JobID, sum.ParameterID}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		jobs[sum.JobID] = struct{}{}
	}

	for jobID := range jobs {
		ids, err := s.parameterIDs(ctx, jobID)
		if err != nil {
			return fmt.Errorf("check existing summaries: %w", err)
		}
		for _, id := range ids {
			if _, dup := seen[key{jobID, id}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO backtest_summaries (`+summaryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, sum := range summaries {
		err = batch.Append(
			sum.JobID, sum.ParameterID, sum.Parameters, sum.Fitness, sum.ROI, sum.AnnualizedROI,
			sum.MaxBalanceDrawdown, sum.MaxEquityDrawdown, boolToUint8(sum.Aborted), sum.AbortReason,
			uint32(sum.Bars), uint32(sum.Trades), sum.WinRate, boolToUint8(sum.Retained), uint64(sum.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByJobID retrieves all summaries of a job, ordered by parameter_id ASC.
func (s *SummaryStore) GetByJobID(ctx context.Context, jobID string) ([]*domain.BacktestSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+summaryColumns+` FROM backtest_summaries
		WHERE job_id = ?
		ORDER BY parameter_id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query summaries by job: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// TopByFitness retrieves the best summaries of a job, ordered by fitness DESC.
func (s *SummaryStore) TopByFitness(ctx context.Context, jobID string, limit int) ([]*domain.BacktestSummary, error) {
	query := `
		SELECT ` + summaryColumns + ` FROM backtest_summaries
		WHERE job_id = ?
		ORDER BY fitness DESC, parameter_id ASC
	`
	args := []any{jobID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top summaries: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// ClearRetained marks stored summaries of a job as no longer retained. The
// mutation completes before ClearRetained returns.
func (s *SummaryStore) ClearRetained(ctx context.Context, jobID string, parameterIDs []string) error {
	if len(parameterIDs) == 0 {
		return nil
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{"mutations_sync": 1}))
	err := s.conn.Exec(ctx, `
		ALTER TABLE backtest_summaries
		UPDATE retained = 0
		WHERE job_id = ? AND has(?, parameter_id)
	`, jobID, parameterIDs)
	if err != nil {
		return fmt.Errorf("clear retained: %w", err)
	}
	return nil
}

func (s *SummaryStore) parameterIDs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT parameter_id FROM backtest_summaries WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSummaries(rows chRows) ([]*domain.BacktestSummary, error) {
	var result []*domain.BacktestSummary

	for rows.Next() {
		var (
			sum               domain.BacktestSummary
			aborted, retained uint8
			bars, trades      uint32
			createdAt         uint64
		)
		err := rows.Scan(
			&sum.JobID, &sum.ParameterID, &sum.Parameters, &sum.Fitness, &sum.ROI, &sum.AnnualizedROI,
			&sum.MaxBalanceDrawdown, &sum.MaxEquityDrawdown, &aborted, &sum.AbortReason,
			&bars, &trades, &sum.WinRate, &retained, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}

		sum.Aborted = aborted != 0
		sum.Retained = retained != 0
		sum.Bars = int(bars)
		sum.Trades = int(trades)
		sum.CreatedAt = int64(createdAt)
		result = append(result, &sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return result, nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
