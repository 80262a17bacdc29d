package backtest

import (
	"context"
	"fmt"
	"time"

	"backtest-lab/internal/binding"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/holding"
	"backtest-lab/internal/journal"
	"backtest-lab/internal/market"
	"backtest-lab/internal/metrics"
	"backtest-lab/internal/series"
)

// Config describes the simulated account and market of a backtest.
type Config struct {
	Exchange       string
	Area           string
	Timeframe      domain.Timeframe
	Symbols        []string
	InitialBalance float64
	DrawdownAbort  float64 // fractional balance drawdown; 0 disables
	FeeRate        float64
	Policy         binding.Policy
}

// Result holds backtest output.
type Result struct {
	BotName     string
	Bars        int
	Trades      []holding.Trade
	Aborted     bool
	AbortReason holding.AbortReason
	AbortSymbol string
	Stats       holding.Stats
	Points      []journal.Point
	StartMs     int64
	EndMs       int64
}

// Runner executes backtests over bars served by a shared provider.
// A Runner is safe for concurrent use; each Run owns its market and cursors.
type Runner struct {
	provider *series.Provider
	cfg      Config
}

// NewRunner creates a new backtest runner.
func NewRunner(provider *series.Provider, cfg Config) *Runner {
	return &Runner{
		provider: provider,
		cfg:      cfg,
	}
}

// Run binds bot, then simulates every bar of the configured range.
// Binding errors are returned before any bar is processed.
func (r *Runner) Run(ctx context.Context, bot Bot) (*Result, error) {
	return r.RunObserved(ctx, bot, nil)
}

// RunObserved is Run with observe called after every bar with the number
// of bars processed and the length of the timeline.
func (r *Runner) RunObserved(ctx context.Context, bot Bot, observe func(done, total int)) (*Result, error) {
	bars := make(map[string][]domain.Bar, len(r.cfg.Symbols))
	for _, sym := range r.cfg.Symbols {
		mk := domain.MarketKey{Exchange: r.cfg.Exchange, Area: r.cfg.Area, Symbol: sym, Timeframe: r.cfg.Timeframe}
		bs, err := r.provider.Bars(ctx, mk)
		if err != nil {
			return nil, err
		}
		bars[sym] = bs
	}
	mkt, err := market.New(r.cfg.Timeframe, bars, r.cfg.Symbols)
	if err != nil {
		return nil, err
	}

	var protection *holding.ProtectionPolicy
	if r.cfg.DrawdownAbort > 0 {
		protection = &holding.ProtectionPolicy{MaxBalanceDrawdown: r.cfg.DrawdownAbort}
	}
	account, err := holding.NewAccount(holding.AccountConfig{
		Symbols:        r.cfg.Symbols,
		InitialBalance: r.cfg.InitialBalance,
		Protection:     protection,
		FeeRate:        r.cfg.FeeRate,
	}, mkt)
	if err != nil {
		return nil, err
	}

	binder := binding.NewBinder(r.provider, binding.Scope{
		Exchange:  r.cfg.Exchange,
		Area:      r.cfg.Area,
		Timeframe: r.cfg.Timeframe,
		Symbols:   r.cfg.Symbols,
	}, r.cfg.Policy)
	b, err := binder.Bind(ctx, bot.Slots())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", bot.Name(), err)
	}
	if err := bot.Bind(b, account); err != nil {
		return nil, fmt.Errorf("bind %s: %w", bot.Name(), err)
	}

	loop := NewLoop(mkt, account)
	for _, in := range b.Inputs() {
		tier := TierMarketData
		if in.IsIndicator() {
			tier = TierIndicator
		}
		loop.Register(tier, in)
	}
	loop.Register(TierBridge, ListenerFunc(func(_ context.Context, _ int64) error {
		account.FillPending(mkt.OpenTime(), mkt.OpenPrice)
		return nil
	}))
	loop.Register(TierAccount, account)
	loop.Register(TierStrategy, bot)
	rec := &recorder{account: account}
	loop.Register(TierObserver, rec)
	if observe != nil {
		loop.Register(TierObserver, ListenerFunc(func(_ context.Context, _ int64) error {
			observe(mkt.Step()+1, mkt.Len())
			return nil
		}))
	}

	if err := loop.Run(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		BotName: bot.Name(),
		Bars:    loop.Bars(),
		Trades:  account.Trades(),
		Aborted: account.Aborted(),
		Points:  rec.points,
		StartMs: mkt.Start(),
		EndMs:   loop.Now(),
	}
	res.AbortReason, res.AbortSymbol = account.AbortReason()
	elapsed := time.Duration(0)
	if res.Bars > 0 {
		elapsed = time.Duration(res.EndMs-res.StartMs) * time.Millisecond
	}
	res.Stats = account.Stats(elapsed)
	return res, nil
}

// Journal converts r into a journal record.
func (r *Result) Journal(params domain.ParameterSet, fitness float64) *journal.Journal {
	return &journal.Journal{
		Bot:        r.BotName,
		Parameters: params,
		FromMs:     r.StartMs,
		ToMs:       r.EndMs,
		Summary: journal.Summary{
			Fitness:            fitness,
			ROI:                r.Stats.ROI,
			AnnualizedROI:      r.Stats.AnnualizedROI,
			ROIToDrawdown:      r.Stats.ROIToDrawdown,
			MaxBalanceDrawdown: r.Stats.MaxBalanceDrawdown,
			MaxEquityDrawdown:  r.Stats.MaxEquityDrawdown,
			FinalBalance:       r.Stats.FinalBalance,
			FinalEquity:        r.Stats.FinalEquity,
			Aborted:            r.Aborted,
			AbortReason:        string(r.AbortReason),
			AbortSymbol:        r.AbortSymbol,
			Bars:               r.Bars,
			Trades:             len(r.Trades),
			TradeStats:         metrics.Compute(r.Trades),
		},
		Points: r.Points,
		Trades: r.Trades,
	}
}
