// Package reporting renders the results of an optimization job.
package reporting

import (
	"time"

	"backtest-lab/internal/domain"
)

// Row is one retained result of a sweep.
type Row struct {
	Rank               int
	ParameterID        string
	Parameters         string
	Fitness            float64
	ROI                float64
	AnnualizedROI      float64
	MaxBalanceDrawdown float64
	MaxEquityDrawdown  float64
	Trades             int
	WinRate            float64
	Aborted            bool
	JournalPath        string // empty for results restored after a resume
}

// Report represents the report of one optimization job.
type Report struct {
	JobID       string
	GeneratedAt time.Time
	Spec        *domain.OptimizationSpec
	Progress    domain.OptimizationProgress

	// Leaderboard, best first
	Rows []Row

	// Distribution over every stored backtest; nil without a summary store
	Distribution *Distribution
}

// Distribution describes all backtests of a job, retained or not.
type Distribution struct {
	Backtests     int
	Aborted       int
	Profitable    int
	FitnessP10    float64
	FitnessMedian float64
	FitnessP90    float64
	BestROI       float64
	WorstROI      float64
	MeanWinRate   float64
}
