// Package metrics records simulation and calibration metrics with Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements repository.Metrics on a dedicated registry.
type Recorder struct {
	registry      *prometheus.Registry
	signalsTotal  *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	eventsFlushed *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	objective     *prometheus.GaugeVec
}

// New creates a recorder with its own registry, plus Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantsim_signals_total",
				Help: "Signals routed through the gate by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		faultsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantsim_strategy_faults_total",
				Help: "Recovered strategy faults",
			},
			[]string{"strategy"},
		),
		eventsFlushed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantsim_events_flushed_total",
				Help: "Trade events written per sink",
			},
			[]string{"sink"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantsim_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantsim_operation_duration_seconds",
				Help:    "Duration of runs and calibration units",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"operation"},
		),
		objective: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantsim_best_objective",
				Help: "Best objective score of the latest calibration per strategy",
			},
			[]string{"strategy"},
		),
	}
}

func (r *Recorder) RecordSignal(strategyID, outcome string) {
	r.signalsTotal.WithLabelValues(strategyID, outcome).Inc()
}

func (r *Recorder) RecordFault(strategyID string) {
	r.faultsTotal.WithLabelValues(strategyID).Inc()
}

func (r *Recorder) RecordEventsFlushed(sink string, n int) {
	r.eventsFlushed.WithLabelValues(sink).Add(float64(n))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordObjective(strategyID string, score float64) {
	r.objective.WithLabelValues(strategyID).Set(score)
}

// Registry exposes the registry for HTTP middleware collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordSignal(string, string)     {}
func (Nop) RecordFault(string)              {}
func (Nop) RecordEventsFlushed(string, int) {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLatency(string, float64)   {}
func (Nop) RecordObjective(string, float64) {}
