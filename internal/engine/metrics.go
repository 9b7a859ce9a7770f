package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the stator runner. Every series is labelled by
// model so a stuck graph is visible on its own.

var (
	// handled counts handler invocations by outcome
	// (transition, no_change, defer, error, panic).
	handled = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "stator_handled_total",
		Help: "The total number of handler invocations",
	}, []string{"model", "outcome"})

	// transitions counts applied transitions. forced is "true" for timeouts.
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "stator_transitions_total",
		Help: "The total number of state transitions applied by the runner",
	}, []string{"model", "from", "to", "forced"})

	// deleted counts entities garbage-collected by DeleteAfter.
	deleted = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "stator_deleted_total",
		Help: "The total number of entities deleted after their state expired",
	}, []string{"model"})

	// claimConflicts counts claims lost to another worker or an external transition.
	claimConflicts = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "stator_claim_conflicts_total",
		Help: "The total number of due entities that could not be claimed",
	}, []string{"model"})

	// handlerSeconds measures handler latency, including remote calls.
	handlerSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name: "stator_handler_seconds",
		Help: "The time spent inside state handlers",
		Buckets: []float64{
			0.01, // 10ms
			0.1,  // 100ms
			1,    // 1s
			10,   // 10s
			60,   // 1m
			300,  // 5m
		},
	}, []string{"model"})

	// inFlight tracks claimed entities currently held by workers.
	inFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "stator_in_flight",
		Help: "The number of claimed entities currently being processed",
	}, []string{"model"})
)
