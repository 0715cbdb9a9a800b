package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxsync_inbound_events_total",
			Help: "Total number of inbound realtime events by type",
		},
		[]string{"type"},
	)

	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxsync_inbound_parse_failures_total",
			Help: "Total number of inbound payloads that could not be parsed",
		},
	)

	DroppedSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxsync_dropped_sends_total",
			Help: "Total number of outbound events dropped because the channel was not writable",
		},
		[]string{"transport"},
	)

	ClosedTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxsync_turns_closed_total",
			Help: "Total number of conversation turns closed, by final status",
		},
		[]string{"status"},
	)

	HandshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxsync_handshake_duration_seconds",
			Help:    "Transport handshake duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport", "outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxsync_active_sessions",
			Help: "Number of active realtime sessions",
		},
	)
)
