package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Orchestration metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmsync_jobs_total",
			Help: "Total number of jobs by state",
		},
		[]string{"state"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmsync_workers_total",
			Help: "Total number of workers by liveness status",
		},
		[]string{"status"},
	)

	ActiveAssignments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmsync_assignments_active",
			Help: "Number of assignments currently executing",
		},
	)

	JobsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_jobs_scheduled_total",
			Help: "Total number of job assignments created",
		},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmsync_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmsync_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatcher metrics
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_heartbeats_received_total",
			Help: "Total number of valid heartbeat frames received",
		},
	)

	MalformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_malformed_frames_total",
			Help: "Total number of dropped malformed heartbeat frames",
		},
	)

	UnreachableSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_unreachable_transitions_total",
			Help: "Total number of workers marked unreachable by the sweep",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmsync_reachability_sweep_seconds",
			Help:    "Duration of one reachability sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Journal metrics
	JournalBufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmsync_journal_buffer_entries",
			Help: "Number of journal entries waiting to be flushed",
		},
	)

	JournalEntriesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_journal_flushed_total",
			Help: "Total number of journal entries flushed to the store",
		},
	)

	JournalEntriesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_journal_expired_total",
			Help: "Total number of journal rows deleted by TTL expiry",
		},
	)

	JournalFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmsync_journal_flush_seconds",
			Help:    "Duration of one journal flush in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Archive metrics
	JobsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmsync_jobs_archived_total",
			Help: "Total number of jobs moved to archival storage",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ActiveAssignments)
	prometheus.MustRegister(JobsScheduled)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(HeartbeatsReceived)
	prometheus.MustRegister(MalformedFrames)
	prometheus.MustRegister(UnreachableSweeps)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(JournalBufferSize)
	prometheus.MustRegister(JournalEntriesFlushed)
	prometheus.MustRegister(JournalEntriesExpired)
	prometheus.MustRegister(JournalFlushDuration)
	prometheus.MustRegister(JobsArchived)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
