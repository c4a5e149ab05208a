// Package metrics exposes ensemble activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements ensemble.Recorder and records service-level runs.
type Recorder struct {
	unitDuration *prometheus.HistogramVec
	unitFailures *prometheus.CounterVec
	weight       *prometheus.GaugeVec
	diversity    prometheus.Gauge
	runs         *prometheus.CounterVec
	predictions  *prometheus.CounterVec
}

// New registers every series on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		unitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockcast_ensemble_unit_duration_seconds",
				Help:    "Duration of one base model fit and predict unit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		unitFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_ensemble_unit_failures_total",
				Help: "Base model units that failed",
			},
			[]string{"model"},
		),
		weight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockcast_ensemble_weight",
				Help: "Current weight per model",
			},
			[]string{"mode", "model"},
		),
		diversity: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockcast_ensemble_diversity_index",
			Help: "One minus the mean pairwise absolute correlation",
		}),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_job_runs_total",
				Help: "Job runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_predictions_total",
				Help: "Persisted ensemble predictions",
			},
			[]string{"mode", "direction"},
		),
	}
}

func (r *Recorder) ObserveUnit(modelID string, failed bool, elapsed time.Duration) {
	r.unitDuration.WithLabelValues(modelID).Observe(elapsed.Seconds())
	if failed {
		r.unitFailures.WithLabelValues(modelID).Inc()
	}
}

func (r *Recorder) ObserveWeights(mode string, weights map[string]float64) {
	for id, w := range weights {
		r.weight.WithLabelValues(mode, id).Set(w)
	}
}

func (r *Recorder) ObserveDiversity(index float64) {
	r.diversity.Set(index)
}

// ObserveRun counts one job run; err decides the outcome label.
func (r *Recorder) ObserveRun(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.runs.WithLabelValues(job, outcome).Inc()
}

func (r *Recorder) ObservePrediction(mode, direction string) {
	r.predictions.WithLabelValues(mode, direction).Inc()
}
