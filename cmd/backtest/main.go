// Package main runs a single backtest and prints its summary and trades.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"backtest-lab/internal/app"
	"backtest-lab/internal/backtest"
	"backtest-lab/internal/binding"
	"backtest-lab/internal/config"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/journal"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/series"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/strategy"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	bot := flag.String("bot", "ma_cross", "Bot: "+strings.Join(strategy.Names(), ", "))
	params := flag.String("params", "", "Parameters, e.g. fast=3|slow=8")
	exchange := flag.String("exchange", "binance", "Exchange")
	area := flag.String("area", "spot", "Market area")
	symbols := flag.String("symbols", "", "Comma-separated symbols (required)")
	timeframe := flag.String("timeframe", "1h", "Bar timeframe: 1m, 5m, 15m, 1h, 4h, 1d")
	bars := flag.String("bars", "", "CSV bar files as SYMBOL=path,... (default: configured bar store)")
	from := flag.String("from", "", "Range start, RFC3339 or Unix ms (default: first bar)")
	to := flag.String("to", "", "Range end, RFC3339 or Unix ms (default: now)")
	balance := flag.Float64("balance", 10000, "Initial balance")
	drawdownAbort := flag.Float64("drawdown-abort", 0, "Abort at this fractional balance drawdown (0 disables)")
	feeRate := flag.Float64("fee-rate", 0, "Fee per fill as a fraction of notional")
	journalDir := flag.String("journal-dir", "", "Write the journal to this directory")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *symbols == "" {
		log.Fatal("--symbols is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	parameters, err := domain.ParseParameterSet(*params)
	if err != nil {
		logger.Fatal("invalid --params", zap.Error(err))
	}
	syms := splitList(*symbols)
	fromMs, err := parseTime(*from, 0)
	if err != nil {
		logger.Fatal("invalid --from", zap.Error(err))
	}
	toMs, err := parseTime(*to, time.Now().UnixMilli())
	if err != nil {
		logger.Fatal("invalid --to", zap.Error(err))
	}
	tf := domain.Timeframe(*timeframe)
	if tf.Duration() <= 0 {
		logger.Fatal("invalid --timeframe", zap.String("timeframe", *timeframe))
	}

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create bar store
	var barStore storage.BarStore
	if *bars != "" {
		mem := memory.NewBarStore()
		if err := loadCSVBars(ctx, mem, *bars, *exchange, *area, tf); err != nil {
			logger.Fatal("load bars", zap.Error(err))
		}
		barStore = mem
	} else {
		stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatal("open stores", zap.Error(err))
		}
		defer cleanup()
		barStore = stores.Bars
	}

	b, err := strategy.New(*bot, parameters, syms)
	if err != nil {
		logger.Fatal("create bot", zap.Error(err))
	}
	runner := backtest.NewRunner(series.NewProvider(barStore, fromMs, toMs, cfg.Worker.Warmup), backtest.Config{
		Exchange:       *exchange,
		Area:           *area,
		Timeframe:      tf,
		Symbols:        syms,
		InitialBalance: *balance,
		DrawdownAbort:  *drawdownAbort,
		FeeRate:        *feeRate,
		Policy:         binding.RequireComplete,
	})

	started := time.Now()
	res, err := runner.Run(ctx, b)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}
	logger.Info("backtest finished", zap.Int("bars", res.Bars), zap.Duration("elapsed", time.Since(started)))

	j := res.Journal(parameters, res.Stats.ROIToDrawdown)
	j.ParameterID = idhash.ComputeParameterID(*bot, parameters)
	if *journalDir != "" {
		store, err := journal.NewFileStore(*journalDir)
		if err != nil {
			logger.Fatal("journal store", zap.Error(err))
		}
		path, err := store.Write(ctx, j.ParameterID, j)
		if err != nil {
			logger.Fatal("write journal", zap.Error(err))
		}
		logger.Info("journal written", zap.String("path", path))
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(j); err != nil {
			logger.Fatal("encode json", zap.Error(err))
		}
		return
	}
	printSummary(j)
	printTrades(j)
}

// loadCSVBars reads SYMBOL=path pairs into store.
func loadCSVBars(ctx context.Context, store storage.BarStore, spec, exchange, area string, tf domain.Timeframe) error {
	for _, pair := range splitList(spec) {
		sym, path, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("bars %q: want SYMBOL=path", pair)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		bars, err := series.ReadBarsCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		key := domain.MarketKey{Exchange: exchange, Area: area, Symbol: sym, Timeframe: tf}
		if err := store.InsertBulk(ctx, key, bars); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func printSummary(j *journal.Journal) {
	s := j.Summary
	fmt.Printf("\n%s %s  [%s → %s]\n", j.Bot, j.Parameters.Key(),
		time.UnixMilli(j.FromMs).UTC().Format(time.RFC3339),
		time.UnixMilli(j.ToMs).UTC().Format(time.RFC3339))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Bars", fmt.Sprintf("%d", s.Bars))
	table.Append("Trades", fmt.Sprintf("%d", s.Trades))
	table.Append("ROI", fmt.Sprintf("%.2f%%", s.ROI*100))
	table.Append("Annualized ROI", fmt.Sprintf("%.2f%%", s.AnnualizedROI*100))
	table.Append("ROI / drawdown", fmt.Sprintf("%.4f", s.ROIToDrawdown))
	table.Append("Max balance drawdown", fmt.Sprintf("%.2f%%", s.MaxBalanceDrawdown*100))
	table.Append("Max equity drawdown", fmt.Sprintf("%.2f%%", s.MaxEquityDrawdown*100))
	table.Append("Final balance", fmt.Sprintf("%.2f", s.FinalBalance))
	table.Append("Final equity", fmt.Sprintf("%.2f", s.FinalEquity))
	ts := s.TradeStats
	table.Append("Closed trades", fmt.Sprintf("%d (%d won)", ts.ClosedTrades, ts.Wins))
	table.Append("Win rate", fmt.Sprintf("%.2f%%", ts.WinRate*100))
	table.Append("Outcome median / P10 / P90", fmt.Sprintf("%.4f / %.4f / %.4f", ts.OutcomeMedian, ts.OutcomeP10, ts.OutcomeP90))
	table.Append("Max consecutive losses", fmt.Sprintf("%d", ts.MaxConsecutiveLosses))
	if s.Aborted {
		table.Append("Aborted", fmt.Sprintf("%s (%s)", s.AbortReason, s.AbortSymbol))
	}
	table.Render()
}

func printTrades(j *journal.Journal) {
	if len(j.Trades) == 0 {
		fmt.Println("No trades.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Symbol", "Side", "Qty", "Price", "Fee", "PnL")
	for _, t := range j.Trades {
		table.Append(
			time.UnixMilli(t.TimestampMs).UTC().Format("2006-01-02 15:04"),
			t.Symbol,
			string(t.Side),
			fmt.Sprintf("%.6f", t.Quantity),
			fmt.Sprintf("%.4f", t.Price),
			fmt.Sprintf("%.4f", t.Fee),
			fmt.Sprintf("%.4f", t.PnL),
		)
	}
	table.Render()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTime accepts RFC3339 or Unix milliseconds; empty yields def.
func parseTime(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	var ms int64
	if _, err := fmt.Sscan(s, &ms); err != nil {
		return 0, fmt.Errorf("time %q: want RFC3339 or Unix ms", s)
	}
	return ms, nil
}
