// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// ConnectionsActive tracks open realtime connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// HandshakesTotal counts upgrade attempts by result.
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_handshakes_total",
			Help: "Realtime handshakes by result",
		},
		[]string{"result"},
	)

	// EventsTotal counts inbound events by name and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Inbound realtime events",
		},
		[]string{"event", "outcome"},
	)

	// EventDuration tracks how long an inbound event takes to handle.
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ws_event_duration_seconds",
			Help:    "Inbound event handling duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"event"},
	)

	// DroppedFrames counts outbound frames discarded because a send buffer was full.
	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_dropped_frames_total",
			Help: "Outbound frames dropped on full send buffers",
		},
	)

	// CallTransitions counts call session state changes.
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_transitions_total",
			Help: "Call session transitions by resulting status",
		},
		[]string{"status"},
	)

	// ChatMessages counts persisted chat messages.
	ChatMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages persisted and relayed",
		},
	)

	// EventsPublished counts outbound domain events by result.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Domain events handed to the broker",
		},
		[]string{"subject", "result"},
	)
)
