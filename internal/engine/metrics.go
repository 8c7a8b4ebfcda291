package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "footprint"

// metrics holds the engine's Prometheus collectors. They are registered on
// a registry owned by the engine so several engines can coexist in tests.
type metrics struct {
	polls             *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	burnRate          *prometheus.GaugeVec
	cumulative        *prometheus.GaugeVec
	allocations       *prometheus.CounterVec
	offsetKg          prometheus.Counter
	payments          prometheus.Counter
	publishFailures   prometheus.Counter
	sinkFailures      prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unit_polls_total",
			Help:      "Unit consumption polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a full poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		burnRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "unit_burn_rate_cycles",
			Help:      "Rolling average cycle burn per poll interval.",
		}, []string{"unit"}),
		cumulative: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cumulative_emissions_kg",
			Help:      "Cumulative carbon emissions per entity (kgCO2e).",
		}, []string{"entity"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offset_allocations_total",
			Help:      "Offset allocation passes by policy.",
		}, []string{"policy"}),
		offsetKg: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offset_allocated_kg_total",
			Help:      "Carbon moved from outstanding to offset (kgCO2e).",
		}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payments_registered_total",
			Help:      "Ticket purchases registered.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be published.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "timeseries_write_failures_total",
			Help:      "Poll cycles that could not be written to the time series store.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.polls,
		m.pollDuration,
		m.burnRate,
		m.cumulative,
		m.allocations,
		m.offsetKg,
		m.payments,
		m.publishFailures,
		m.sinkFailures,
		m.operationDuration,
	)
	return m
}
