// Package main administers the optimization job queue.
//
// Usage:
//
//	queue [-config path] enqueue -spec sweep.yaml [-priority n] [-submitted-by name]
//	queue [-config path] status
//	queue [-config path] list [-status queued] [-limit 50]
//	queue [-config path] show <job-id>
//	queue [-config path] cancel <job-id>
//	queue [-config path] cleanup [-retention-days n] [-stale-minutes n]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"backtest-lab/internal/app"
	"backtest-lab/internal/config"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/optimizer"
	"backtest-lab/internal/queue"
	"backtest-lab/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config path] <enqueue|status|list|show|cancel|cleanup> [flags]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer cleanup()
	coord := app.NewCoordinator(stores, logger)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "enqueue":
		err = runEnqueue(ctx, coord, args)
	case "status":
		err = runStatus(ctx, coord)
	case "list":
		err = runList(ctx, coord, args)
	case "show":
		err = runShow(ctx, coord, args)
	case "cancel":
		err = runCancel(ctx, coord, args)
	case "cleanup":
		err = runCleanup(ctx, coord, cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal(cmd+" failed", zap.Error(err))
	}
}

func runEnqueue(ctx context.Context, coord *queue.Coordinator, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	specPath := fs.String("spec", "", "Sweep spec file, YAML or JSON (required)")
	priority := fs.Int("priority", 0, "Priority; lower runs first")
	submittedBy := fs.String("submitted-by", os.Getenv("USER"), "Submitter identity")
	fs.Parse(args)

	if *specPath == "" {
		return errors.New("-spec is required")
	}
	data, err := os.ReadFile(*specPath)
	if err != nil {
		return err
	}
	// Accepts YAML or JSON.
	var spec domain.OptimizationSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse %s: %w", *specPath, err)
	}
	params, err := optimizer.EncodeSpec(&spec)
	if err != nil {
		return err
	}
	job, err := coord.Enqueue(ctx, params, *priority, *submittedBy)
	if err != nil {
		return err
	}
	fmt.Println(job.ID)
	return nil
}

func runStatus(ctx context.Context, coord *queue.Coordinator) error {
	st, err := coord.Status(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Queued", "Running", "Completed", "Failed", "Cancelled", "Total", "Oldest queued")
	table.Append(
		fmt.Sprintf("%d", st.Queued),
		fmt.Sprintf("%d", st.Running),
		fmt.Sprintf("%d", st.Completed),
		fmt.Sprintf("%d", st.Failed),
		fmt.Sprintf("%d", st.Cancelled),
		fmt.Sprintf("%d", st.Total()),
		(time.Duration(st.OldestQueuedAge) * time.Millisecond).Round(time.Second).String(),
	)
	table.Render()
	return nil
}

func runList(ctx context.Context, coord *queue.Coordinator, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status")
	limit := fs.Int("limit", 50, "Max jobs")
	fs.Parse(args)

	jobs, err := coord.List(ctx, domain.JobStatus(*status), *limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Priority", "Submitted by", "Worker", "Created", "Progress")
	for _, j := range jobs {
		table.Append(
			j.ID,
			string(j.Status),
			fmt.Sprintf("%d", j.Priority),
			j.SubmittedBy,
			j.WorkerID,
			formatMs(j.CreatedAt),
			formatProgress(j.Progress),
		)
	}
	table.Render()
	return nil
}

func runShow(ctx context.Context, coord *queue.Coordinator, args []string) error {
	if len(args) != 1 {
		return errors.New("show needs one job ID")
	}
	j, err := coord.Get(ctx, args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", j.ID)
	table.Append("Status", string(j.Status))
	table.Append("Priority", fmt.Sprintf("%d", j.Priority))
	table.Append("Submitted by", j.SubmittedBy)
	table.Append("Worker", j.WorkerID)
	table.Append("Created", formatMs(j.CreatedAt))
	table.Append("Started", formatMs(j.StartedAt))
	table.Append("Last heartbeat", formatMs(j.LastHeartbeat))
	table.Append("Finished", formatMs(j.FinishedAt))
	table.Append("Progress", formatProgress(j.Progress))
	if p := j.Progress; p != nil {
		table.Append("Completed / skipped", fmt.Sprintf("%d / %d of %d", p.Completed, p.Skipped, p.PlannedTotal))
		table.Append("ETA", formatMs(p.EstimatedEndTimeMs))
	}
	table.Append("Result", j.ResultPath)
	table.Append("Error", j.ErrorMessage)
	table.Render()
	return nil
}

func runCancel(ctx context.Context, coord *queue.Coordinator, args []string) error {
	if len(args) != 1 {
		return errors.New("cancel needs one job ID")
	}
	ok, err := coord.Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s is not queued or running", args[0])
	}
	fmt.Printf("cancelled %s\n", args[0])
	return nil
}

func runCleanup(ctx context.Context, coord *queue.Coordinator, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	retention := fs.Int("retention-days", cfg.Queue.RetentionDays, "Delete terminal jobs older than this")
	stale := fs.Int("stale-minutes", cfg.Queue.StaleMinutes, "Requeue running jobs silent for this long")
	fs.Parse(args)

	n, err := coord.Cleanup(ctx, *retention, *stale)
	if err != nil {
		return err
	}
	fmt.Printf("cleaned up %d jobs\n", n)
	return nil
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

func formatProgress(p *domain.OptimizationProgress) string {
	if p == nil {
		return "-"
	}
	s := fmt.Sprintf("%.1f%%", p.Fraction()*100)
	if p.IsPaused {
		s += " (paused)"
	}
	return s
}
