package tracker

import "github.com/prometheus/client_golang/prometheus"

// Prometheus tracker metrics.
var (
	sourcePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apwatch_source_polls_total",
			Help: "Source polls by outcome.",
		},
		[]string{"source", "result"},
	)
	sourcePollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apwatch_source_poll_duration_seconds",
			Help:    "Duration of source polls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	normalizationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apwatch_normalization_failures_total",
			Help: "Raw records dropped during normalization.",
		},
		[]string{"source"},
	)
	pendingMACs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apwatch_pending_macs",
			Help: "MACs awaiting association.",
		},
		[]string{"scope"},
	)
	devicesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apwatch_devices",
			Help: "Devices in the table by state.",
		},
		[]string{"scope", "state"},
	)
	persistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apwatch_persistence_errors_total",
			Help: "Failed identity mapping saves by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		sourcePollsTotal,
		sourcePollDuration,
		normalizationFailures,
		pendingMACs,
		devicesGauge,
		persistenceErrors,
	)
}
