// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Backtest metrics
	BacktestsTotal   *prometheus.CounterVec
	BacktestDuration prometheus.Histogram
	BarsSimulated    prometheus.Counter

	// Tracker metrics
	TrackerAdmissions prometheus.Counter
	TrackerRejections prometheus.Counter
	TrackerEvictions  prometheus.Counter
	TrackerThreshold  *prometheus.GaugeVec

	// Queue metrics
	QueueOperations     *prometheus.CounterVec
	QueueRejections     *prometheus.CounterVec
	QueueJobs           *prometheus.GaugeVec
	QueueOldestQueued   prometheus.Gauge
	StaleJobsRequeued   prometheus.Counter
	TerminalJobsPurged  prometheus.Counter
	JobDuration         *prometheus.HistogramVec
	WorkerRunningJobs   prometheus.Gauge
	OptimizationSetsRun *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulJob prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "backtest_lab"
	}

	return &Metrics{
		// Backtest metrics
		BacktestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtests by outcome",
		}, []string{"outcome"}),
		BacktestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Wall time of a single backtest in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BarsSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "bars_simulated_total",
			Help:      "Total number of bars simulated",
		}),

		// Tracker metrics
		TrackerAdmissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "admissions_total",
			Help:      "Results admitted to the best-results tracker",
		}),
		TrackerRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "rejections_total",
			Help:      "Results rejected by the best-results tracker",
		}),
		TrackerEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "evictions_total",
			Help:      "Retained results evicted by better ones",
		}),
		TrackerThreshold: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "threshold",
			Help:      "Current admission threshold by job",
		}, []string{"job_id"}),

		// Queue metrics
		QueueOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue operations by name and status",
		}, []string{"operation", "status"}),
		QueueRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "transition_rejections_total",
			Help:      "Queue transitions rejected for status or ownership",
		}, []string{"operation"}),
		QueueJobs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs",
			Help:      "Jobs by status",
		}, []string{"status"}),
		QueueOldestQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "oldest_queued_seconds",
			Help:      "Age of the oldest queued job in seconds",
		}),
		StaleJobsRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "stale_requeued_total",
			Help:      "Running jobs requeued after missing heartbeats",
		}),
		TerminalJobsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "purged_total",
			Help:      "Terminal jobs removed after retention",
		}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Optimization job duration in seconds by final status",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600, 14400},
		}, []string{"status"}),
		WorkerRunningJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "running_jobs",
			Help:      "Jobs currently running in this worker",
		}),
		OptimizationSetsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "parameter_sets_total",
			Help:      "Parameter sets processed by outcome",
		}, []string{"outcome"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulJob: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_job_timestamp",
			Help:      "Unix timestamp of the last completed job",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBacktest records one finished backtest.
func RecordBacktest(aborted bool, bars int, seconds float64) {
	outcome := "completed"
	if aborted {
		outcome = "aborted"
	}
	DefaultMetrics.BacktestsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.BacktestDuration.Observe(seconds)
	DefaultMetrics.BarsSimulated.Add(float64(bars))
}

// RecordParameterSet records how a parameter set was handled:
// "run", "skipped" or "failed".
func RecordParameterSet(outcome string) {
	DefaultMetrics.OptimizationSetsRun.WithLabelValues(outcome).Inc()
}

// RecordTrackerDecision records a tracker admission or rejection.
func RecordTrackerDecision(admitted bool) {
	if admitted {
		DefaultMetrics.TrackerAdmissions.Inc()
		return
	}
	DefaultMetrics.TrackerRejections.Inc()
}

// RecordTrackerEviction records an eviction.
func RecordTrackerEviction() {
	DefaultMetrics.TrackerEvictions.Inc()
}

// UpdateTrackerThreshold sets the admission threshold gauge of a job.
func UpdateTrackerThreshold(jobID string, threshold float64) {
	DefaultMetrics.TrackerThreshold.WithLabelValues(jobID).Set(threshold)
}

// RecordQueueOperation records a queue call. A rejected transition is
// counted separately from a storage error.
func RecordQueueOperation(operation string, ok bool, err error) {
	switch {
	case err != nil:
		DefaultMetrics.QueueOperations.WithLabelValues(operation, "error").Inc()
	case !ok:
		DefaultMetrics.QueueOperations.WithLabelValues(operation, "rejected").Inc()
		DefaultMetrics.QueueRejections.WithLabelValues(operation).Inc()
	default:
		DefaultMetrics.QueueOperations.WithLabelValues(operation, "ok").Inc()
	}
}

// RecordCleanup records the outcome of a cleanup pass.
func RecordCleanup(purged, requeued int) {
	DefaultMetrics.TerminalJobsPurged.Add(float64(purged))
	DefaultMetrics.StaleJobsRequeued.Add(float64(requeued))
}

// UpdateQueueStatus sets the per-status job gauges.
func UpdateQueueStatus(counts map[string]int, oldestQueuedSeconds float64) {
	for status, n := range counts {
		DefaultMetrics.QueueJobs.WithLabelValues(status).Set(float64(n))
	}
	DefaultMetrics.QueueOldestQueued.Set(oldestQueuedSeconds)
}

// RecordJobFinished records the duration of a finished job.
func RecordJobFinished(status string, seconds float64, finishedUnix int64) {
	DefaultMetrics.JobDuration.WithLabelValues(status).Observe(seconds)
	if status == "completed" {
		DefaultMetrics.LastSuccessfulJob.Set(float64(finishedUnix))
	}
}

// UpdateRunningJobs sets the worker's running job gauge.
func UpdateRunningJobs(n int) {
	DefaultMetrics.WorkerRunningJobs.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
