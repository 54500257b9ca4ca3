// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline holds the collectors updated by the scheduler and state machine.
type Pipeline struct {
	// InFlight tracks stage advancements currently running.
	InFlight prometheus.Gauge
	// Dispatches counts units handed to the state machine by the scheduler.
	Dispatches prometheus.Counter
	// Advancements counts finished advancements by outcome (ok, error).
	Advancements *prometheus.CounterVec
	// Transitions counts stage transitions by destination stage.
	Transitions *prometheus.CounterVec
	// StageDuration observes how long each stage attempt took.
	StageDuration *prometheus.HistogramVec
}

// NewPipeline registers the pipeline collectors with reg. A nil reg yields
// unregistered collectors, which is what tests use.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slideflow_inflight_advancements",
			Help: "Number of stage advancements currently in flight",
		}),
		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "slideflow_dispatches_total",
			Help: "Total number of units dispatched by the scheduler",
		}),
		Advancements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slideflow_advancements_total",
			Help: "Total number of finished stage advancements",
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slideflow_transitions_total",
			Help: "Total number of unit stage transitions",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slideflow_stage_duration_seconds",
			Help:    "Stage attempt duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
	}
}
