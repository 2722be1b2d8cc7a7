package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: huddle (application-level grouping)
// - subsystem: signaling, room, store (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, rejections)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveConnections tracks the current number of open WebSocket connections (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of admitted participants per room (GaugeVec with room_id label)
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// WaitingParticipants tracks the number of participants parked in each waiting room (GaugeVec with room_id label)
	WaitingParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "room",
		Name:      "waiting_count",
		Help:      "Number of participants in each waiting room",
	}, []string{"room_id"})

	// PeakParticipants tracks the highest server-wide participant count seen since boot (Gauge - high-water mark)
	PeakParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "room",
		Name:      "participants_peak",
		Help:      "Highest number of simultaneous participants since start",
	})

	// SignalingEvents tracks the total number of signaling envelopes processed (CounterVec - cumulative)
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "signaling",
		Name:      "events_total",
		Help:      "Total signaling messages processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent handling signaling messages (HistogramVec - latency distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "huddle",
		Subsystem: "signaling",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing signaling messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// RateLimitedRequests counts requests rejected by the rate limiter (CounterVec - cumulative)
	RateLimitedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "signaling",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope"})

	// StoreWrites counts latent room store rewrites by outcome (CounterVec - cumulative)
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Total latent room store writes",
	}, []string{"status"})

	// StoreBreakerState exposes the latent store circuit breaker state (Gauge: 0 closed, 1 half-open, 2 open)
	StoreBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "store",
		Name:      "breaker_state",
		Help:      "Latent room store circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
