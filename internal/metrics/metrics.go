// Package metrics holds the Prometheus collectors of the realtime client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visadesk_connection_state",
			Help: "Notification socket state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visadesk_connect_attempts_total",
			Help: "Notification socket connect attempts",
		},
		[]string{"result"}, // "dialed", "no_token", "dial_error"
	)

	Disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visadesk_disconnects_total",
			Help: "Notification socket closures",
		},
		[]string{"kind"}, // "clean", "unclean", "ack_timeout"
	)

	ReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visadesk_reconnects_scheduled_total",
			Help: "Reconnects scheduled after an unclean close",
		},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visadesk_frames_received_total",
			Help: "Decoded notification frames",
		},
		[]string{"type"},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visadesk_malformed_frames_total",
			Help: "Frames dropped as malformed or unknown",
		},
	)

	// Reconciliation metrics
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visadesk_reconcile_outcomes_total",
			Help: "Merge outcomes of the message reconciler",
		},
		[]string{"outcome"},
	)

	HistoryFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visadesk_history_fetch_failures_total",
			Help: "Failed history page fetches",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visadesk_send_failures_total",
			Help: "Failed outbound sends",
		},
	)

	// Auth metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visadesk_token_refreshes_total",
			Help: "Access token refresh attempts",
		},
		[]string{"result"}, // "ok", "failed"
	)

	// Collaborator latency
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visadesk_api_latency_seconds",
			Help:    "CRM REST call latency",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)
