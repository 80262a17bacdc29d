package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/binding"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
	"backtest-lab/internal/market"
	"backtest-lab/internal/series"
	"backtest-lab/internal/storage/memory"
)

const hour = int64(time.Hour / time.Millisecond)

// scriptedBot buys and sells BTC after fixed closes.
type scriptedBot struct {
	symbol  string
	buyAt   int64
	sellAt  int64
	close   *binding.ResolvedInput
	account *holding.Account
	calls   int
}

func (b *scriptedBot) Name() string { return "scripted" }

func (b *scriptedBot) Slots() []binding.Slot {
	return []binding.Slot{{Name: "close", Input: binding.Series(binding.Pattern{Symbol: b.symbol})}}
}

func (b *scriptedBot) Bind(bd *binding.Binding, account *holding.Account) error {
	b.close = bd.One("close")
	b.account = account
	return nil
}

func (b *scriptedBot) OnBar(_ context.Context, _ int64) error {
	b.calls++
	switch b.close.Count() {
	case b.buyAt:
		b.account.Submit(holding.Order{Symbol: b.symbol, Side: holding.SideBuy, Fraction: 1})
	case b.sellAt:
		b.account.Submit(holding.Order{Symbol: b.symbol, Side: holding.SideSell})
	}
	return nil
}

func setupProvider(t *testing.T, bars []domain.Bar) *series.Provider {
	t.Helper()
	store := memory.NewBarStore()
	mk := domain.MarketKey{Exchange: "x", Area: "spot", Symbol: "BTC", Timeframe: domain.Timeframe1h}
	require.NoError(t, store.InsertBulk(context.Background(), mk, bars))
	return series.NewProvider(store, 0, int64(len(bars))*hour, 0)
}

func testConfig() Config {
	return Config{
		Exchange:       "x",
		Area:           "spot",
		Timeframe:      domain.Timeframe1h,
		Symbols:        []string{"BTC"},
		InitialBalance: 1000,
	}
}

func TestRunner_FillsAtNextOpen(t *testing.T) {
	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = domain.Bar{TimestampMs: int64(i) * hour, Open: 100 + float64(i)*10, Close: 105 + float64(i)*10}
	}
	runner := NewRunner(setupProvider(t, bars), testConfig())
	bot := &scriptedBot{symbol: "BTC", buyAt: 3, sellAt: 6}

	res, err := runner.Run(context.Background(), bot)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Bars)
	assert.Equal(t, 10, bot.calls)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 130.0, res.Trades[0].Price, "buy fills at the open after the signal")
	assert.Equal(t, 3*hour, res.Trades[0].TimestampMs)
	assert.Equal(t, 160.0, res.Trades[1].Price)

	want := 1000.0 / 130 * 30
	assert.InDelta(t, want, res.Trades[1].PnL, 1e-9)
	assert.InDelta(t, want/1000, res.Stats.ROI, 1e-9)
	assert.False(t, res.Aborted)
	assert.Len(t, res.Points, 10)

	j := res.Journal(domain.ParameterSet{"x": 1}, 0.5)
	assert.Equal(t, 2, j.Summary.Trades)
	assert.Equal(t, 1, j.Summary.TradeStats.ClosedTrades)
	assert.Equal(t, 1.0, j.Summary.TradeStats.WinRate)
	assert.InDelta(t, want, j.Summary.TradeStats.OutcomeMean, 1e-9)
}

func TestRunner_StopsOnAbort(t *testing.T) {
	bars := make([]domain.Bar, 10)
	for i := range bars {
		p := 100 - float64(i)*10
		bars[i] = domain.Bar{TimestampMs: int64(i) * hour, Open: p, Close: p}
	}
	cfg := testConfig()
	cfg.DrawdownAbort = 0.2
	runner := NewRunner(setupProvider(t, bars), cfg)

	res, err := runner.Run(context.Background(), &scriptedBot{symbol: "BTC", buyAt: 1, sellAt: 3})
	require.NoError(t, err, "abort is an outcome, not an error")

	assert.True(t, res.Aborted)
	assert.Equal(t, holding.AbortBalanceDrawdown, res.AbortReason)
	assert.Equal(t, "BTC", res.AbortSymbol)
	assert.Equal(t, 4, res.Bars, "loop stops after the bar that aborted")
}

func TestRunner_RunObservedReportsEveryBar(t *testing.T) {
	bars := make([]domain.Bar, 5)
	for i := range bars {
		bars[i] = domain.Bar{TimestampMs: int64(i) * hour, Open: 10, Close: 10}
	}
	runner := NewRunner(setupProvider(t, bars), testConfig())

	var seen [][2]int
	_, err := runner.RunObserved(context.Background(), &scriptedBot{symbol: "BTC"}, func(done, total int) {
		seen = append(seen, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {5, 5}}, seen)
}

func TestRunner_BindingErrorBeforeSimulation(t *testing.T) {
	bars := []domain.Bar{{TimestampMs: 0, Open: 1, Close: 1}}
	runner := NewRunner(setupProvider(t, bars), testConfig())
	bot := &scriptedBot{symbol: "NOPE"}

	_, err := runner.Run(context.Background(), bot)
	assert.ErrorIs(t, err, binding.ErrMissingProducer)
	assert.Zero(t, bot.calls)
}

func TestLoop_TierOrder(t *testing.T) {
	mkt, err := market.New(domain.Timeframe1h, map[string][]domain.Bar{
		"BTC": {{TimestampMs: 0}, {TimestampMs: hour}},
	}, []string{"BTC"})
	require.NoError(t, err)

	var order []string
	rec := func(name string) Listener {
		return ListenerFunc(func(_ context.Context, _ int64) error {
			order = append(order, name)
			return nil
		})
	}

	loop := NewLoop(mkt, nil)
	loop.Register(TierObserver, rec("observer"))
	loop.Register(TierStrategy, rec("strategy"))
	loop.Register(TierIndicator, rec("indicator-1"))
	loop.Register(TierMarketData, rec("feed"))
	loop.Register(TierIndicator, rec("indicator-2"))
	loop.Register(TierAccount, rec("account"))
	loop.Register(TierBridge, rec("bridge"))

	require.NoError(t, loop.Run(context.Background()))

	perBar := []string{"feed", "bridge", "account", "indicator-1", "indicator-2", "strategy", "observer"}
	assert.Equal(t, append(append([]string{}, perBar...), perBar...), order)
	assert.Equal(t, 2, loop.Bars())
	assert.Equal(t, 2*hour, loop.Now())
}

func TestLoop_ContextCancelled(t *testing.T) {
	mkt, err := market.New(domain.Timeframe1h, map[string][]domain.Bar{
		"BTC": {{TimestampMs: 0}, {TimestampMs: hour}},
	}, []string{"BTC"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLoop(mkt, nil).Run(ctx), context.Canceled)
}
