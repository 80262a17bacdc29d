package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"backtest-lab/internal/domain"
)

// ReadBarsCSV reads bars with the columns timestamp_ms,open,high,low,close
// and an optional volume. A header row is skipped. Bars are returned in
// timestamp order.
func ReadBarsCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []domain.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bars csv: %w", err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp_ms") {
			continue
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("bars csv line %d: want at least 5 columns, got %d", line, len(rec))
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bars csv line %d: timestamp: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 1; i < len(rec) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("bars csv line %d column %d: %w", line, i+1, err)
			}
			vals[i-1] = v
		}
		bars = append(bars, domain.Bar{
			TimestampMs: ts,
			Open:        vals[0],
			High:        vals[1],
			Low:         vals[2],
			Close:       vals[3],
			Volume:      vals[4],
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TimestampMs < bars[j].TimestampMs })
	return bars, nil
}
