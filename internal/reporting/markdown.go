package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Optimization Report: %s\n\n", r.JobID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339)))

	// Sweep
	if s := r.Spec; s != nil {
		sb.WriteString("## Sweep\n\n")
		sb.WriteString("| Setting | Value |\n")
		sb.WriteString("|---------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Bot | %s |\n", s.Bot))
		sb.WriteString(fmt.Sprintf("| Market | %s/%s %s |\n", s.Exchange, s.Area, s.Timeframe))
		sb.WriteString(fmt.Sprintf("| Symbols | %s |\n", strings.Join(s.Symbols, ", ")))
		sb.WriteString(fmt.Sprintf("| Range | %s to %s |\n", formatMs(s.FromMs), formatMs(s.ToMs)))
		sb.WriteString(fmt.Sprintf("| Initial Balance | %.2f |\n", s.InitialBalance))
		if s.DrawdownAbort > 0 {
			sb.WriteString(fmt.Sprintf("| Drawdown Abort | %.2f%% |\n", s.DrawdownAbort*100))
		}
		sb.WriteString(fmt.Sprintf("| Fitness | %s |\n", s.Fitness))
		sb.WriteString(fmt.Sprintf("| Top N | %d |\n", s.TopN))
		sb.WriteString("\n")

		sb.WriteString("| Parameter | Min | Max | Step |\n")
		sb.WriteString("|-----------|-----|-----|------|\n")
		for _, pr := range s.Ranges {
			sb.WriteString(fmt.Sprintf("| %s | %g | %g | %g |\n", pr.Name, pr.Min, pr.Max, pr.Step))
		}
		sb.WriteString("\n")
	}

	// Progress
	p := r.Progress
	sb.WriteString("## Progress\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Planned | %d |\n", p.PlannedTotal))
	sb.WriteString(fmt.Sprintf("| Comprehensive Total | %d |\n", p.ComprehensiveTotal))
	sb.WriteString(fmt.Sprintf("| Completed | %d |\n", p.Completed))
	sb.WriteString(fmt.Sprintf("| Skipped | %d |\n", p.Skipped))
	if p.StartTimeMs > 0 {
		sb.WriteString(fmt.Sprintf("| Started | %s |\n", formatMs(p.StartTimeMs)))
	}
	sb.WriteString("\n")

	// Distribution
	if d := r.Distribution; d != nil {
		sb.WriteString("## Distribution\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Backtests | %d |\n", d.Backtests))
		sb.WriteString(fmt.Sprintf("| Aborted | %d |\n", d.Aborted))
		sb.WriteString(fmt.Sprintf("| Profitable | %d |\n", d.Profitable))
		sb.WriteString(fmt.Sprintf("| Fitness P10 | %.4f |\n", d.FitnessP10))
		sb.WriteString(fmt.Sprintf("| Fitness Median | %.4f |\n", d.FitnessMedian))
		sb.WriteString(fmt.Sprintf("| Fitness P90 | %.4f |\n", d.FitnessP90))
		sb.WriteString(fmt.Sprintf("| Best ROI | %.4f |\n", d.BestROI))
		sb.WriteString(fmt.Sprintf("| Worst ROI | %.4f |\n", d.WorstROI))
		sb.WriteString(fmt.Sprintf("| Mean Win Rate | %.4f |\n", d.MeanWinRate))
		sb.WriteString("\n")
	}

	// Leaderboard
	sb.WriteString("## Leaderboard\n\n")
	if len(r.Rows) > 0 {
		sb.WriteString("| Rank | Parameters | Fitness | ROI | Ann. ROI | MaxDD (bal) | MaxDD (eq) | Trades | WinRate | Aborted |\n")
		sb.WriteString("|------|------------|---------|-----|----------|-------------|------------|--------|---------|---------|\n")
		for _, row := range r.Rows {
			aborted := ""
			if row.Aborted {
				aborted = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %.4f | %.4f | %.4f | %.4f | %.4f | %d | %.4f | %s |\n",
				row.Rank, row.Parameters, row.Fitness, row.ROI, row.AnnualizedROI,
				row.MaxBalanceDrawdown, row.MaxEquityDrawdown, row.Trades, row.WinRate, aborted))
		}
	} else {
		sb.WriteString("No results retained.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
