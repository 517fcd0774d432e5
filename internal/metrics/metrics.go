package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region recorder
// Recorder exposes optimizer telemetry as Prometheus metrics. Register it
// against a private registry in tests and prometheus.DefaultRegisterer in
// the binary.
type Recorder struct {
	runs            *prometheus.CounterVec
	iterations      prometheus.Histogram
	finalReward     prometheus.Histogram
	actions         *prometheus.CounterVec
	qtableStates    prometheus.Gauge
	epsilon         prometheus.Gauge
	generateLatency prometheus.Histogram
	generateErrors  prometheus.Counter
}

// NewRecorder registers the optimizer metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qrefine_runs_total",
			Help: "Optimization runs by outcome",
		}, []string{"outcome"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrefine_run_iterations",
			Help:    "Iterations used per run",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
		}),
		finalReward: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrefine_run_final_reward",
			Help:    "Final total reward per run",
			Buckets: prometheus.LinearBuckets(-60, 20, 12), // -60 to 160
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qrefine_actions_selected_total",
			Help: "Actions selected by the learner",
		}, []string{"action"}),
		qtableStates: f.NewGauge(prometheus.GaugeOpts{
			Name: "qrefine_qtable_states",
			Help: "Distinct states held in the Q-table",
		}),
		epsilon: f.NewGauge(prometheus.GaugeOpts{
			Name: "qrefine_epsilon",
			Help: "Current exploration rate",
		}),
		generateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrefine_generate_duration_seconds",
			Help:    "Generator call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		generateErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "qrefine_generate_errors_total",
			Help: "Generator calls that failed or returned empty output",
		}),
	}
}
// #endregion recorder

// #region observe
// A nil *Recorder is valid and records nothing.

// RunFinished records a completed run.
func (r *Recorder) RunFinished(outcome string, iterations int, finalReward float64) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.iterations.Observe(float64(iterations))
	r.finalReward.Observe(finalReward)
}

// ActionSelected counts one selection.
func (r *Recorder) ActionSelected(action string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(action).Inc()
}

// LearnerState sets the table size and epsilon gauges.
func (r *Recorder) LearnerState(states int, epsilon float64) {
	if r == nil {
		return
	}
	r.qtableStates.Set(float64(states))
	r.epsilon.Set(epsilon)
}

// Generated records one generator call.
func (r *Recorder) Generated(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.generateLatency.Observe(d.Seconds())
	if err != nil {
		r.generateErrors.Inc()
	}
}
// #endregion observe
