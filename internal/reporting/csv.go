package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders the leaderboard as CSV string.
func RenderCSV(rows []Row) string {
	var sb strings.Builder

	// Header
	sb.WriteString("rank,parameter_id,parameters,fitness,roi,annualized_roi,")
	sb.WriteString("max_balance_drawdown,max_equity_drawdown,trades,win_rate,aborted,journal\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%.6f,%t,%s\n",
			r.Rank,
			r.ParameterID,
			r.Parameters,
			r.Fitness,
			r.ROI,
			r.AnnualizedROI,
			r.MaxBalanceDrawdown,
			r.MaxEquityDrawdown,
			r.Trades,
			r.WinRate,
			r.Aborted,
			r.JournalPath,
		))
	}

	return sb.String()
}
