package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Controller metrics
	NodesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skalds_nodes_tracked",
			Help: "Number of nodes currently tracked by the controller",
		},
	)

	NodesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skalds_nodes_evicted_total",
			Help: "Total number of nodes evicted for staleness or departure",
		},
	)

	TasksMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skalds_tasks_monitored",
			Help: "Number of tasks currently tracked by the task monitor",
		},
	)

	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skalds_task_transitions_total",
			Help: "Total number of terminal task transitions by status",
		},
		[]string{"status"},
	)

	AssignmentsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skalds_assignments_published_total",
			Help: "Total number of task assignments published on the bus",
		},
	)

	CancelsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skalds_cancels_published_total",
			Help: "Total number of task cancellations published on the bus",
		},
	)

	// Node metrics
	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skalds_workers_running",
			Help: "Number of task worker subprocesses currently running",
		},
	)

	WorkersSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skalds_workers_spawned_total",
			Help: "Total number of task worker subprocesses spawned",
		},
	)

	WorkersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skalds_workers_rejected_total",
			Help: "Total number of rejected assignments by reason",
		},
		[]string{"reason"},
	)

	SpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skalds_worker_spawn_duration_seconds",
			Help:    "Time taken to spawn a task worker subprocess in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTracked)
	prometheus.MustRegister(NodesEvicted)
	prometheus.MustRegister(TasksMonitored)
	prometheus.MustRegister(TaskTransitions)
	prometheus.MustRegister(AssignmentsPublished)
	prometheus.MustRegister(CancelsPublished)
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(WorkersSpawned)
	prometheus.MustRegister(WorkersRejected)
	prometheus.MustRegister(SpawnDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
