// Package metrics registers the engine's Prometheus gauges and counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LiveReceivers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mlat_live_receivers",
		Help: "Number of currently connected receivers.",
	})

	PublishablePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mlat_publishable_pairs",
		Help: "Number of clock pairs currently publishable to the graph.",
	})

	PendingGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mlat_pending_groups",
		Help: "Number of in-progress correlator groups.",
	})

	FixesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlat_fixes_accepted_total",
		Help: "Total multilateration fixes accepted by the solver.",
	}, []string{"icao24"})

	FixesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlat_fixes_rejected_total",
		Help: "Total multilateration attempts rejected by the solver, by reason.",
	}, []string{"reason"})

	AdmissionDutyCycle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mlat_admission_duty_cycle",
		Help: "Current backpressure admission duty cycle, 0-100.",
	})

	SolverLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mlat_solver_latency_seconds",
		Help:    "Wall-clock time spent in the LM solver per candidate.",
		Buckets: prometheus.DefBuckets,
	})
)

// Register registers every metric with the default registry. Safe to call
// once at startup.
func Register() {
	prometheus.MustRegister(
		LiveReceivers,
		PublishablePairs,
		PendingGroups,
		FixesAccepted,
		FixesRejected,
		AdmissionDutyCycle,
		SolverLatency,
	)
}

// Handler returns the promhttp handler for mounting on the status server.
func Handler() http.Handler {
	return promhttp.Handler()
}
