package clickhouse

import (
	"context"
	"fmt"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds bars for one market. Fails entire batch on a duplicate timestamp.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
func (s *BarStore) InsertBulk(ctx context.Context, key domain.MarketKey, bars []domain.Bar) error {
	if key.Symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(bars))
	minTs, maxTs := bars[0].TimestampMs, bars[0].TimestampMs
	for _, b := range bars {
		if _, dup := seen[b.TimestampMs]; dup {
			return storage.ErrDuplicateKey
		}
		seen[b.TimestampMs] = struct{}{}
		minTs = min(minTs, b.TimestampMs)
		maxTs = max(maxTs, b.TimestampMs)
	}

	existing, err := s.timestamps(ctx, key, minTs, maxTs)
	if err != nil {
		return fmt.Errorf("check existing bars: %w", err)
	}
	for _, ts := range existing {
		if _, dup := seen[ts]; dup {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			exchange, area, symbol, timeframe, timestamp_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			key.Exchange, key.Area, key.Symbol, string(key.Timeframe), uint64(b.TimestampMs),
			b.Open, b.High, b.Low, b.Close, b.Volume,
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

// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *BarStore) GetByTimeRange(ctx context.Context, key domain.MarketKey, start, end int64) ([]domain.Bar, error) {
	if start < 0 {
		start = 0
	}
	query := `
		SELECT timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE exchange = ? AND area = ? AND symbol = ? AND timeframe = ?
		  AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query,
		key.Exchange, key.Area, key.Symbol, string(key.Timeframe), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Exists reports whether any bar is stored for the market.
func (s *BarStore) Exists(ctx context.Context, key domain.MarketKey) (bool, error) {
	query := `
		SELECT count(*) FROM bars
		WHERE exchange = ? AND area = ? AND symbol = ? AND timeframe = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, key.Exchange, key.Area, key.Symbol, string(key.Timeframe)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count bars: %w", err)
	}
	return count > 0, nil
}

func (s *BarStore) timestamps(ctx context.Context, key domain.MarketKey, start, end int64) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms FROM bars
		WHERE exchange = ? AND area = ? AND symbol = ? AND timeframe = ?
		  AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, key.Exchange, key.Area, key.Symbol, string(key.Timeframe), uint64(max(start, 0)), uint64(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		result = append(result, int64(ts))
	}
	return result, rows.Err()
}

// scanBars scans multiple rows.
func scanBars(rows chRows) ([]domain.Bar, error) {
	var bars []domain.Bar

	for rows.Next() {
		var b domain.Bar
		var timestampMs uint64

		err := rows.Scan(&timestampMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}

		b.TimestampMs = int64(timestampMs)
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}

	return bars, nil
}
