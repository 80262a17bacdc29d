package optimizer

import (
	"backtest-lab/internal/bestresults"
	"backtest-lab/internal/reporting"
)

// leaderboard converts tracker entries, best first, into ranked rows.
func leaderboard(entries []bestresults.Entry) []reporting.Row {
	rows := make([]reporting.Row, 0, len(entries))
	for _, e := range entries {
		row, ok := e.Payload.(reporting.Row)
		if !ok {
			continue
		}
		row.Rank = len(rows) + 1
		rows = append(rows, row)
	}
	return rows
}
