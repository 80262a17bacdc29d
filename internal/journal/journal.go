// Package journal records the full outcome of one backtest and persists it
// for the results the optimizer retains.
package journal

import (
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
	"backtest-lab/internal/metrics"
)

// Point is one sample of the account curve, taken at each bar close.
type Point struct {
	TimestampMs int64   `json:"t"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
}

// Summary holds the headline figures of a backtest.
type Summary struct {
	Fitness            float64 `json:"fitness"`
	ROI                float64 `json:"roi"`
	AnnualizedROI      float64 `json:"annualized_roi"`
	ROIToDrawdown      float64 `json:"roi_to_drawdown"`
	MaxBalanceDrawdown float64 `json:"max_balance_drawdown"`
	MaxEquityDrawdown  float64 `json:"max_equity_drawdown"`
	FinalBalance       float64 `json:"final_balance"`
	FinalEquity        float64 `json:"final_equity"`
	Aborted            bool    `json:"aborted"`
	AbortReason        string  `json:"abort_reason,omitempty"`
	AbortSymbol        string  `json:"abort_symbol,omitempty"`
	Bars               int     `json:"bars"`
	Trades             int     `json:"trades"`

	TradeStats metrics.TradeStats `json:"trade_stats"`
}

// Journal is the complete record of one backtest.
type Journal struct {
	JobID       string              `json:"job_id,omitempty"`
	ParameterID string              `json:"parameter_id,omitempty"`
	Bot         string              `json:"bot"`
	Parameters  domain.ParameterSet `json:"parameters"`
	FromMs      int64               `json:"from_ms"`
	ToMs        int64               `json:"to_ms"`
	Summary     Summary             `json:"summary"`
	Points      []Point             `json:"points"`
	Trades      []holding.Trade     `json:"trades"`
}
