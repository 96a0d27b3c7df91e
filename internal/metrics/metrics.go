// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound events by final pipeline outcome.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "statusbot", Subsystem: "pipeline", Name: "events_total", Help: "Inbound Slack events by outcome."},
		[]string{"outcome"},
	)
	// ProcessingSeconds observes the asynchronous part of the pipeline.
	ProcessingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "statusbot", Subsystem: "pipeline", Name: "processing_seconds", Help: "Time from dispatch to final outcome.", Buckets: prometheus.ExponentialBuckets(0.25, 2, 10)},
		[]string{"source"},
	)
	// FallbacksTotal counts degraded stages (transcription or reformatting failed).
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "statusbot", Subsystem: "pipeline", Name: "fallbacks_total", Help: "Stages that fell back to a degraded result."},
		[]string{"stage"},
	)
	// QueueDepth is the number of admitted events waiting for a worker.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "statusbot", Subsystem: "pipeline", Name: "queue_depth", Help: "Admitted events waiting for a worker."},
	)
	// RemindersTotal counts reminder messages by action and result.
	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "statusbot", Subsystem: "reminders", Name: "messages_total", Help: "Reminder direct messages by action and result."},
		[]string{"action", "result"},
	)
	// CycleFirings counts reminder cycle evaluations.
	CycleFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "statusbot", Subsystem: "reminders", Name: "firings_total", Help: "Reminder cycle firings by cycle and trigger."},
		[]string{"cycle", "trigger"},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal, ProcessingSeconds, FallbacksTotal, QueueDepth, RemindersTotal, CycleFirings)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
