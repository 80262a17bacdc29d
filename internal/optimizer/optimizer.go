// Package optimizer runs the parameter sweep of an optimization job.
// It coordinates: enumeration → binding → simulation → best-results tracking
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/backtest"
	"backtest-lab/internal/bestresults"
	"backtest-lab/internal/binding"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/journal"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/metrics"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/optimize"
	"backtest-lab/internal/queue"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/series"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/strategy"
)

// partialSteps is how many partial progress updates one backtest reports.
const partialSteps = 20

// Options for creating Optimizer.
type Options struct {
	// Required stores
	BarStore     storage.BarStore
	JournalStore journal.Store

	// Optional; summaries are not persisted when nil
	SummaryStore storage.SummaryStore

	Parallelism int           // concurrent backtests per job, default runtime.NumCPU()
	Warmup      time.Duration // history loaded before the range so indicators start primed
	FeeRate     float64
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Optimizer executes optimization jobs. It implements queue.JobRunner.
type Optimizer struct {
	bars        storage.BarStore
	journals    journal.Store
	summaries   storage.SummaryStore
	parallelism int
	warmup      time.Duration
	feeRate     float64
	reports     *reporting.Generator
	clock       func() time.Time
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*optimize.Progress
}

// Compile-time interface check.
var _ queue.JobRunner = (*Optimizer)(nil)

// New creates a new Optimizer.
func New(opts Options) *Optimizer {
	if opts.Parallelism < 1 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Optimizer{
		bars:        opts.BarStore,
		journals:    opts.JournalStore,
		summaries:   opts.SummaryStore,
		parallelism: opts.Parallelism,
		warmup:      opts.Warmup,
		feeRate:     opts.FeeRate,
		reports:     reporting.NewGenerator(opts.SummaryStore).WithClock(opts.Clock),
		clock:       opts.Clock,
		logger:      logging.OrNop(opts.Logger),
		active:      make(map[string]*optimize.Progress),
	}
}

// RunJob sweeps the parameter space of job and returns the location of its
// leaderboard. A job carrying progress resumes from its checkpoint.
func (o *Optimizer) RunJob(ctx context.Context, job *domain.OptimizationJob, report func(domain.OptimizationProgress)) (string, error) {
	spec, err := DecodeSpec(job.Parameters)
	if err != nil {
		return "", err
	}
	fitness, err := LookupFitness(spec.Fitness)
	if err != nil {
		return "", err
	}
	enum, err := optimize.New(spec.Ranges, spec.Granularity, spec.ComprehensiveCeiling)
	if err != nil {
		return "", err
	}
	if job.Progress != nil {
		if err := enum.Resume(job.Progress.Position); err != nil {
			return "", fmt.Errorf("resume job %s: %w", job.ID, err)
		}
	}

	progress := optimize.NewProgress(o.clock)
	progress.Start(enum.Total(), enum.ComprehensiveTotal(), job.Progress)
	o.track(job.ID, progress)
	defer o.untrack(job.ID)

	tracker := bestresults.New(spec.TopN)
	tracker.OnEvict = func(float64) { observability.RecordTrackerEviction() }

	provider := series.NewProvider(o.bars, spec.FromMs, spec.ToMs, o.warmup)
	s := &sweep{
		jobID: job.ID,
		spec:  spec,
		runner: backtest.NewRunner(provider, backtest.Config{
			Exchange:       spec.Exchange,
			Area:           spec.Area,
			Timeframe:      spec.Timeframe,
			Symbols:        spec.Symbols,
			InitialBalance: spec.InitialBalance,
			DrawdownAbort:  spec.DrawdownAbort,
			FeeRate:        o.feeRate,
			Policy:         binding.RequireComplete,
		}),
		fitness:     fitness,
		tracker:     tracker,
		progress:    progress,
		journals:    o.journals,
		summaries:   o.summaries,
		parallelism: o.parallelism,
		report:      report,
		clock:       o.clock,
		logger:      o.logger.With(zap.String("job_id", job.ID), zap.String("bot", spec.Bot)),
		evicted:     make(map[string]struct{}),
	}
	if job.Progress != nil {
		if err := s.restore(ctx); err != nil {
			return "", err
		}
	}

	s.logger.Info("sweep started",
		zap.Int64("planned", enum.Total()),
		zap.Int64("comprehensive", enum.ComprehensiveTotal()),
		zap.Bool("is_comprehensive", enum.Comprehensive()),
		zap.Int64("position", enum.Position()),
	)
	report(progress.Snapshot())

	for {
		if err := progress.WaitWhilePaused(ctx); err != nil {
			return "", err
		}
		start := enum.Position()
		batch := enum.NextBatch(spec.BatchSize)
		if len(batch) == 0 {
			break
		}
		if err := s.runBatch(ctx, start, batch); err != nil {
			return "", err
		}
		progress.Checkpoint(enum.Position())
		report(progress.Snapshot())
		if th := tracker.Threshold(); !math.IsInf(th, 0) {
			observability.UpdateTrackerThreshold(job.ID, th)
		}
	}
	if err := s.persist(ctx, nil); err != nil {
		return "", err
	}
	tracker.Wait()

	snap := progress.Snapshot()
	path, err := o.writeResults(ctx, job.ID, spec, snap, tracker)
	if err != nil {
		return "", err
	}
	report(snap)
	s.logger.Info("sweep completed",
		zap.Int64("completed", snap.Completed),
		zap.Int64("skipped", snap.Skipped),
		zap.Int("retained", tracker.Len()),
		zap.String("result", path),
	)
	return path, nil
}

// Pause holds back new backtests of a running job. It reports whether the
// job runs in this process.
func (o *Optimizer) Pause(jobID string) bool {
	pr := o.lookup(jobID)
	if pr == nil {
		return false
	}
	pr.Pause()
	return true
}

// Resume ends a pause started by Pause.
func (o *Optimizer) Resume(jobID string) bool {
	pr := o.lookup(jobID)
	if pr == nil {
		return false
	}
	pr.Resume()
	return true
}

// Progress returns the live progress of a job running in this process.
func (o *Optimizer) Progress(jobID string) (domain.OptimizationProgress, bool) {
	pr := o.lookup(jobID)
	if pr == nil {
		return domain.OptimizationProgress{}, false
	}
	return pr.Snapshot(), true
}

func (o *Optimizer) track(jobID string, pr *optimize.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[jobID] = pr
}

func (o *Optimizer) untrack(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, jobID)
}

func (o *Optimizer) lookup(jobID string) *optimize.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[jobID]
}

// writeResults writes the leaderboard CSV and the Markdown report of a
// finished sweep and returns the location of the leaderboard.
func (o *Optimizer) writeResults(ctx context.Context, jobID string, spec *domain.OptimizationSpec, snap domain.OptimizationProgress, tracker *bestresults.Tracker) (string, error) {
	rows := leaderboard(tracker.Entries())
	path, err := o.journals.WriteArtifact(ctx, jobID+"/leaderboard.csv", []byte(reporting.RenderCSV(rows)))
	if err != nil {
		return "", fmt.Errorf("write leaderboard: %w", err)
	}

	r, err := o.reports.Generate(ctx, jobID, spec, snap, rows)
	if err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}
	if _, err := o.journals.WriteArtifact(ctx, jobID+"/report.md", []byte(reporting.RenderMarkdown(r))); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// sweep is the per-job state shared by the backtests of one run.
type sweep struct {
	jobID       string
	spec        *domain.OptimizationSpec
	runner      *backtest.Runner
	fitness     FitnessFunc
	tracker     *bestresults.Tracker
	progress    *optimize.Progress
	journals    journal.Store
	summaries   storage.SummaryStore
	parallelism int
	report      func(domain.OptimizationProgress)
	clock       func() time.Time
	logger      *zap.Logger

	// stored holds the parameter IDs an interrupted run already stored.
	// It is not modified once the sweep starts.
	stored map[string]struct{}

	mu      sync.Mutex
	evicted map[string]struct{} // evicted since the last persist
}

// restore loads what an interrupted run of the job stored. Stored sets are
// not run again, and the retained ones re-enter the tracker with their
// journals.
func (s *sweep) restore(ctx context.Context) error {
	if s.summaries == nil {
		return nil
	}
	sums, err := s.summaries.GetByJobID(ctx, s.jobID)
	if err != nil {
		return fmt.Errorf("load stored results: %w", err)
	}

	s.stored = make(map[string]struct{}, len(sums))
	var retained []*domain.BacktestSummary
	for _, sum := range sums {
		s.stored[sum.ParameterID] = struct{}{}
		if sum.Retained {
			retained = append(retained, sum)
		}
	}
	sort.Slice(retained, func(i, j int) bool {
		if retained[i].Fitness != retained[j].Fitness {
			return retained[i].Fitness > retained[j].Fitness
		}
		return retained[i].ParameterID < retained[j].ParameterID
	})

	for _, sum := range retained {
		path := s.journals.Locate(idhash.ComputeJournalName(s.jobID, sum.ParameterID))
		row := reporting.Row{
			ParameterID:        sum.ParameterID,
			Parameters:         sum.Parameters,
			Fitness:            sum.Fitness,
			ROI:                sum.ROI,
			AnnualizedROI:      sum.AnnualizedROI,
			MaxBalanceDrawdown: sum.MaxBalanceDrawdown,
			MaxEquityDrawdown:  sum.MaxEquityDrawdown,
			Trades:             sum.Trades,
			WinRate:            sum.WinRate,
			Aborted:            sum.Aborted,
			JournalPath:        path,
		}
		evict := s.evict(sum.ParameterID, path)
		if !s.tracker.ShouldAddKeyed(sum.Fitness, sum.ParameterID, evict, row) {
			evict()
		}
	}
	s.logger.Info("restored stored results",
		zap.Int("stored", len(sums)),
		zap.Int("retained", s.tracker.Len()),
	)
	return nil
}

// runBatch backtests one batch in parallel. The first failing backtest
// cancels the rest.
func (s *sweep) runBatch(ctx context.Context, start int64, batch []domain.ParameterSet) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	summaries := make([]*domain.BacktestSummary, len(batch))
	for i, params := range batch {
		seq := start + int64(i)
		g.Go(func() error {
			sum, err := s.runOne(gctx, seq, params)
			if err != nil {
				return err
			}
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.persist(ctx, summaries)
}

func (s *sweep) runOne(ctx context.Context, seq int64, params domain.ParameterSet) (*domain.BacktestSummary, error) {
	pid := idhash.ComputeParameterID(s.spec.Bot, params)
	if _, done := s.stored[pid]; done {
		observability.RecordParameterSet("restored")
		s.progress.Complete(seq)
		s.report(s.progress.Snapshot())
		return nil, nil
	}

	bot, err := strategy.New(s.spec.Bot, params, s.spec.Symbols)
	if errors.Is(err, strategy.ErrInvalidParameters) {
		s.skip(seq, params, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := s.runner.RunObserved(ctx, bot, s.observer(seq))
	if isBindingError(err) {
		s.skip(seq, params, err)
		return nil, nil
	}
	if err != nil {
		observability.RecordParameterSet("failed")
		return nil, fmt.Errorf("backtest %s: %w", params.Key(), err)
	}
	observability.RecordBacktest(res.Aborted, res.Bars, time.Since(started).Seconds())
	observability.RecordParameterSet("run")

	fit := s.fitness(res)
	winRate := metrics.Compute(res.Trades).WinRate
	retained, err := s.offer(ctx, pid, params, res, fit, winRate)
	if err != nil {
		return nil, err
	}

	s.progress.Complete(seq)
	s.report(s.progress.Snapshot())

	return &domain.BacktestSummary{
		JobID:              s.jobID,
		ParameterID:        pid,
		Parameters:         params.Key(),
		Fitness:            fit,
		ROI:                res.Stats.ROI,
		AnnualizedROI:      res.Stats.AnnualizedROI,
		MaxBalanceDrawdown: res.Stats.MaxBalanceDrawdown,
		MaxEquityDrawdown:  res.Stats.MaxEquityDrawdown,
		Aborted:            res.Aborted,
		AbortReason:        string(res.AbortReason),
		Bars:               res.Bars,
		Trades:             len(res.Trades),
		WinRate:            winRate,
		Retained:           retained,
		CreatedAt:          s.clock().UnixMilli(),
	}, nil
}

func (s *sweep) skip(seq int64, params domain.ParameterSet, err error) {
	s.logger.Debug("parameter set skipped", zap.String("parameters", params.Key()), zap.Error(err))
	observability.RecordParameterSet("skipped")
	s.progress.Skip(seq)
	s.report(s.progress.Snapshot())
}

// observer reports partial progress of backtest seq a few times per run.
func (s *sweep) observer(seq int64) func(done, total int) {
	return func(done, total int) {
		every := total / partialSteps
		if every < 1 {
			every = 1
		}
		if done%every != 0 || done == total {
			return
		}
		s.progress.SetPartial(seq, float64(done)/float64(total))
		s.report(s.progress.Snapshot())
	}
}

// offer materializes the journal only when the result may be retained.
// A journal the tracker rejects after all is deleted right away.
func (s *sweep) offer(ctx context.Context, pid string, params domain.ParameterSet, res *backtest.Result, fit, winRate float64) (bool, error) {
	if !s.tracker.PeekShouldAdd(fit) || s.tracker.Holds(pid) {
		observability.RecordTrackerDecision(false)
		return false, nil
	}

	j := res.Journal(params, fit)
	j.JobID = s.jobID
	j.ParameterID = pid
	path, err := s.journals.Write(ctx, idhash.ComputeJournalName(s.jobID, pid), j)
	if err != nil {
		return false, fmt.Errorf("write journal: %w", err)
	}

	row := reporting.Row{
		ParameterID:        pid,
		Parameters:         params.Key(),
		Fitness:            fit,
		ROI:                res.Stats.ROI,
		AnnualizedROI:      res.Stats.AnnualizedROI,
		MaxBalanceDrawdown: res.Stats.MaxBalanceDrawdown,
		MaxEquityDrawdown:  res.Stats.MaxEquityDrawdown,
		Trades:             len(res.Trades),
		WinRate:            winRate,
		Aborted:            res.Aborted,
		JournalPath:        path,
	}
	if s.tracker.ShouldAddKeyed(fit, pid, s.evict(pid, path), row) {
		observability.RecordTrackerDecision(true)
		return true, nil
	}
	observability.RecordTrackerDecision(false)
	s.deleteJournal(path)
	return false, nil
}

// evict is the discard action of a retained result: its journal is deleted
// and its stored summary is no longer flagged retained at the next persist.
func (s *sweep) evict(pid, path string) bestresults.Discard {
	return func() {
		s.mu.Lock()
		s.evicted[pid] = struct{}{}
		s.mu.Unlock()
		s.deleteJournal(path)
	}
}

func (s *sweep) deleteJournal(path string) {
	if err := s.journals.Delete(context.Background(), path); err != nil && !errors.Is(err, journal.ErrNotFound) {
		s.logger.Warn("discard journal failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *sweep) takeEvicted() map[string]struct{} {
	s.tracker.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.evicted
	s.evicted = make(map[string]struct{})
	return out
}

// persist stores the summaries of a batch and clears the retained flag of
// stored results evicted since the last call. Sets restored from an
// interrupted run are already stored.
func (s *sweep) persist(ctx context.Context, summaries []*domain.BacktestSummary) error {
	if s.summaries == nil {
		return nil
	}
	evicted := s.takeEvicted()
	batch := summaries[:0]
	for _, sum := range summaries {
		if sum == nil {
			continue
		}
		if _, ok := evicted[sum.ParameterID]; ok {
			sum.Retained = false
			delete(evicted, sum.ParameterID)
		}
		batch = append(batch, sum)
	}

	var err error
	if len(batch) > 0 {
		err = s.summaries.InsertBulk(ctx, batch)
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		for _, sum := range batch {
			if err := s.summaries.InsertBulk(ctx, []*domain.BacktestSummary{sum}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("store summary: %w", err)
			}
		}
	} else if err != nil {
		return fmt.Errorf("store summaries: %w", err)
	}

	if len(evicted) == 0 {
		return nil
	}
	ids := make([]string, 0, len(evicted))
	for id := range evicted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := s.summaries.ClearRetained(ctx, s.jobID, ids); err != nil {
		return fmt.Errorf("clear evicted summaries: %w", err)
	}
	return nil
}

func isBindingError(err error) bool {
	return errors.Is(err, binding.ErrSlotCountMismatch) ||
		errors.Is(err, binding.ErrMissingProducer) ||
		errors.Is(err, binding.ErrTypeMismatch) ||
		errors.Is(err, binding.ErrUnresolvable)
}
