package domain

// OptimizationSpec is the parameter blob carried by an optimization job.
// The queue treats it as opaque bytes; the optimizer decodes it.
type OptimizationSpec struct {
	Bot                  string           `json:"bot" yaml:"bot"`
	Exchange             string           `json:"exchange" yaml:"exchange"`
	Area                 string           `json:"area" yaml:"area"`
	Symbols              []string         `json:"symbols" yaml:"symbols"`
	Timeframe            Timeframe        `json:"timeframe" yaml:"timeframe"`
	FromMs               int64            `json:"from_ms" yaml:"from_ms"`
	ToMs                 int64            `json:"to_ms" yaml:"to_ms"`
	InitialBalance       float64          `json:"initial_balance" yaml:"initial_balance"`
	DrawdownAbort        float64          `json:"drawdown_abort,omitempty" yaml:"drawdown_abort,omitempty"` // 0 disables protection
	Ranges               []ParameterRange `json:"ranges" yaml:"ranges"`
	Granularity          float64          `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	ComprehensiveCeiling int64            `json:"comprehensive_ceiling,omitempty" yaml:"comprehensive_ceiling,omitempty"`
	TopN                 int              `json:"top_n,omitempty" yaml:"top_n,omitempty"`
	Fitness              string           `json:"fitness,omitempty" yaml:"fitness,omitempty"`
	BatchSize            int              `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// Markets returns the bar streams the spec trades.
func (s *OptimizationSpec) Markets() []MarketKey {
	keys := make([]MarketKey, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		keys = append(keys, MarketKey{
			Exchange:  s.Exchange,
			Area:      s.Area,
			Symbol:    sym,
			Timeframe: s.Timeframe,
		})
	}
	return keys
}

// BacktestSummary is the lightweight record every backtest leaves behind,
// retained or not. Corresponds to backtest_summaries table in ClickHouse.
type BacktestSummary struct {
	JobID              string  // owning optimization job
	ParameterID        string  // base58 fingerprint of the parameter set
	Parameters         string  // canonical ParameterSet.Key()
	Fitness            float64 // injected fitness score
	ROI                float64 // (final - initial) / initial
	AnnualizedROI      float64
	MaxBalanceDrawdown float64 // fractional
	MaxEquityDrawdown  float64 // fractional
	Aborted            bool
	AbortReason        string
	Bars               int     // bars simulated
	Trades             int     // fills
	WinRate            float64 // share of closed trades with positive PnL
	Retained           bool    // journal kept by the best-results tracker at insert time
	CreatedAt          int64   // Unix ms
}
