package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for triggered learning runs.
//
//   - athena_runs_total{trigger,result}
//   - athena_runs_skipped_total{trigger}
//   - athena_run_duration_seconds{trigger}
//   - athena_run_patterns{kind}
//   - athena_last_success_timestamp_seconds
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunsSkipped      *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	Patterns         *prometheus.GaugeVec
	LastSuccessStamp prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg means
// prometheus.DefaultRegisterer, so call it once per process in that case.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "athena_runs_total",
			Help: "Learning runs by trigger and result",
		}, []string{"trigger", "result"}),
		RunsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "athena_runs_skipped_total",
			Help: "Triggers ignored because a run was already in progress",
		}, []string{"trigger"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "athena_run_duration_seconds",
			Help:    "Wall time of learning runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"trigger"}),
		Patterns: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "athena_run_patterns",
			Help: "Pattern counts from the most recent successful run",
		}, []string{"kind"}), // extracted, uncertain, validated, fallback
		LastSuccessStamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "athena_last_success_timestamp_seconds",
			Help: "Unix time the last successful run finished",
		}),
	}
}
