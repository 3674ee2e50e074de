package optim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-run optimizer collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	evaluationsTotal *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastObjective    *prometheus.GaugeVec
}

// NewMetrics creates the optimizer collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optim",
				Name:      "runs_total",
				Help:      "Total number of optimizer runs by termination status",
			},
			[]string{"algorithm", "status"},
		),
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optim",
				Name:      "evaluations_total",
				Help:      "Total number of objective evaluations",
			},
			[]string{"algorithm"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "optim",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of optimizer runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"algorithm"},
		),
		lastObjective: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "optim",
				Name:      "last_objective",
				Help:      "Objective value reached by the most recent run",
			},
			[]string{"algorithm"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.evaluationsTotal, m.runDuration, m.lastObjective)
	}
	return m
}

func (m *Metrics) observe(alg Algorithm, r Result) {
	if m == nil {
		return
	}
	name := alg.String()
	m.runsTotal.WithLabelValues(name, r.Status.String()).Inc()
	m.evaluationsTotal.WithLabelValues(name).Add(float64(r.Iterations))
	m.runDuration.WithLabelValues(name).Observe(r.Runtime.Seconds())
	m.lastObjective.WithLabelValues(name).Set(r.Objective)
}
