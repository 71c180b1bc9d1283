package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records reconciliation and session telemetry in Prometheus.
type Metrics struct {
	operations   *prometheus.CounterVec
	commits      prometheus.Histogram
	lockRejected prometheus.Counter
	jobs         *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. openSessions is sampled at scrape time.
func NewMetrics(reg prometheus.Registerer, openSessions func() int) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "commit_operations_total",
			Help:      "Attendance ledger writes by operation kind and outcome.",
		}, []string{"kind", "outcome"}),
		commits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Name:      "commit_duration_seconds",
			Help:      "Time to reconcile one draft against the ledger.",
			Buckets:   prometheus.DefBuckets,
		}),
		lockRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "lock_rejections_total",
			Help:      "Commits refused because the lecture was locked.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "commit_jobs_total",
			Help:      "Asynchronous commit jobs by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.operations, m.commits, m.lockRejected, m.jobs)
	if openSessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Name:      "open_sessions",
			Help:      "Marking sessions currently held in memory.",
		}, func() float64 { return float64(openSessions()) }))
	}
	return m
}

func (m *Metrics) ObserveOperation(kind, outcome string) {
	m.operations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveCommit(d time.Duration) { m.commits.Observe(d.Seconds()) }

func (m *Metrics) LockRejected() { m.lockRejected.Inc() }

// JobFinished counts a commit job reaching a final status.
func (m *Metrics) JobFinished(status string) { m.jobs.WithLabelValues(status).Inc() }
