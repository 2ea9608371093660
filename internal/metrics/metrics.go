package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pass metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_passes_total",
			Help: "Total number of engine passes",
		},
		[]string{"trigger", "outcome"}, // outcome: processed, heartbeat, disabled
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threshold_alert_pass_duration_seconds",
			Help:    "Time taken by one engine pass",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Rule metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_rule_evaluations_total",
			Help: "Rule outcomes per pass",
		},
		[]string{"result"}, // result: missing, ok, suppressed, fired
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_dispatch_total",
			Help: "Outbound alert sends per recipient",
		},
		[]string{"channel", "status"}, // status: success, failed, aborted
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threshold_alert_dispatch_duration_seconds",
			Help:    "Time taken by one outbound send",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Storage metrics
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_storage_errors_total",
			Help: "Tag store failures",
		},
		[]string{"op"},
	)

	HistoryErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threshold_alert_history_errors_total",
			Help: "Failures indexing alert history",
		},
	)

	// Source metrics
	SourceMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_source_messages_total",
			Help: "Messages received from ingest sources",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_alert_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
