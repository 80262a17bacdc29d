package backtest

import (
	"context"

	"backtest-lab/internal/holding"
	"backtest-lab/internal/journal"
)

// recorder samples the account curve after every bar.
type recorder struct {
	account *holding.Account
	points  []journal.Point
}

func (r *recorder) OnBar(_ context.Context, now int64) error {
	t := r.account.Total()
	r.points = append(r.points, journal.Point{
		TimestampMs: now,
		Balance:     t.Balance().Current,
		Equity:      t.Equity().Current,
	})
	return nil
}
