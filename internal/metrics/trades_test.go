package metrics

import (
	"math"
	"testing"

	"backtest-lab/internal/holding"
)

const eps = 1e-9

func roundTrip(sym string, at int64, entryFee, pnl, exitFee float64) []holding.Trade {
	return []holding.Trade{
		{Symbol: sym, Side: holding.SideBuy, Fee: entryFee, TimestampMs: at},
		{Symbol: sym, Side: holding.SideSell, Fee: exitFee, PnL: pnl, TimestampMs: at + 1},
	}
}

func TestCompute_Empty(t *testing.T) {
	st := Compute(nil)
	if st != (TradeStats{}) {
		t.Errorf("expected zero stats, got %+v", st)
	}
}

func TestCompute_OpenPositionIsNotCounted(t *testing.T) {
	st := Compute([]holding.Trade{{Symbol: "A", Side: holding.SideBuy, Fee: 1, TimestampMs: 1}})
	if st.ClosedTrades != 0 {
		t.Errorf("expected 0 closed trades, got %d", st.ClosedTrades)
	}
}

func TestCompute_NetsFees(t *testing.T) {
	st := Compute(roundTrip("A", 0, 1, 10, 2))
	if st.ClosedTrades != 1 || st.Wins != 1 {
		t.Fatalf("expected one winning trade, got %+v", st)
	}
	if math.Abs(st.OutcomeMean-7) > eps {
		t.Errorf("expected outcome 7, got %f", st.OutcomeMean)
	}
}

func TestCompute_Statistics(t *testing.T) {
	// outcomes in order: +10, -4, -6, +20
	var trades []holding.Trade
	trades = append(trades, roundTrip("A", 300, 0, 20, 0)...)
	trades = append(trades, roundTrip("A", 0, 0, 10, 0)...)
	trades = append(trades, roundTrip("B", 100, 0, -4, 0)...)
	trades = append(trades, roundTrip("A", 200, 0, -6, 0)...)

	st := Compute(trades)

	if st.ClosedTrades != 4 || st.Wins != 2 || st.Losses != 2 {
		t.Errorf("unexpected counts %+v", st)
	}
	if math.Abs(st.WinRate-0.5) > eps {
		t.Errorf("expected win rate 0.5, got %f", st.WinRate)
	}
	if math.Abs(st.GrossProfit-30) > eps || math.Abs(st.GrossLoss-10) > eps {
		t.Errorf("expected gross 30/10, got %f/%f", st.GrossProfit, st.GrossLoss)
	}
	if math.Abs(st.OutcomeMean-5) > eps {
		t.Errorf("expected mean 5, got %f", st.OutcomeMean)
	}
	// sorted: -6, -4, 10, 20
	if math.Abs(st.OutcomeMedian-3) > eps {
		t.Errorf("expected median 3, got %f", st.OutcomeMedian)
	}
	if st.OutcomeMin != -6 || st.OutcomeMax != 20 {
		t.Errorf("expected min/max -6/20, got %f/%f", st.OutcomeMin, st.OutcomeMax)
	}
	// cumulative: 10, 6, 0, 20
	if math.Abs(st.MaxDrawdown-10) > eps {
		t.Errorf("expected max drawdown 10, got %f", st.MaxDrawdown)
	}
	if st.MaxConsecutiveLosses != 2 {
		t.Errorf("expected 2 consecutive losses, got %d", st.MaxConsecutiveLosses)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.10, 1.4},
		{0.50, 3},
		{0.90, 4.6},
		{1, 5},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); math.Abs(got-tt.want) > eps {
			t.Errorf("p%.0f: expected %f, got %f", tt.p*100, tt.want, got)
		}
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for empty input, got %f", got)
	}
}

func TestComputeStddev(t *testing.T) {
	// sample stddev of 2,4,4,4,5,5,7,9 is sqrt(32/7)
	o := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := computeStddev(o, computeMean(o))
	if want := math.Sqrt(32.0 / 7.0); math.Abs(got-want) > eps {
		t.Errorf("expected %f, got %f", want, got)
	}
	if computeStddev([]float64{1}, 1) != 0 {
		t.Error("expected 0 for a single sample")
	}
}
