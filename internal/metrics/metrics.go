// Package metrics declares the process's Prometheus metrics. Metrics live
// in their own package, rather than next to each producer, so every
// collector is registered exactly once at import time via promauto.
//
// Naming convention: namespace_subsystem_name
//   - namespace: gamebuddies (application-level grouping)
//   - subsystem: hub, room, session, tick_engine, platform, rate_limit
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms, labeled by game id.
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms per game",
	}, []string{"game_id"})

	// RoomPlayers tracks the number of players in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_code"})

	// FramesTotal tracks inbound frames dispatched, labeled by event and outcome.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamebuddies",
		Subsystem: "hub",
		Name:      "frames_total",
		Help:      "Total inbound frames dispatched",
	}, []string{"event", "status"})

	// FrameProcessingDuration tracks time spent handling an inbound frame.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gamebuddies",
		Subsystem: "hub",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing an inbound frame",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// BroadcastsTotal tracks room broadcasts actually flushed after coalescing.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamebuddies",
		Subsystem: "hub",
		Name:      "broadcasts_total",
		Help:      "Total room broadcasts flushed after coalescing",
	}, []string{"event"})

	// TickEngineDriftSeconds tracks scheduler drift (actual elapsed minus
	// expected interval) per active tick engine.
	TickEngineDriftSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "tick_engine",
		Name:      "drift_seconds",
		Help:      "Most recent scheduler drift observed by a room's tick engine",
	}, []string{"room_code"})

	// TickEnginesActive tracks the number of running per-room tick loops.
	TickEnginesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "tick_engine",
		Name:      "active",
		Help:      "Current number of running tick engines",
	})

	// PlatformCircuitBreakerState tracks gobreaker state: 0 closed, 1 open, 2 half-open.
	PlatformCircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "platform",
		Name:      "circuit_breaker_state",
		Help:      "Current state of the platform client circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"operation"})

	// PlatformRequestsTotal tracks outbound platform HTTP calls by outcome.
	PlatformRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamebuddies",
		Subsystem: "platform",
		Name:      "requests_total",
		Help:      "Total outbound requests to the platform API",
	}, []string{"operation", "status"})

	// RateLimitExceeded tracks requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamebuddies",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"scope"})

	// SessionsActive tracks the number of live session tokens.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamebuddies",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of active session tokens",
	})
)

// IncConnection records a newly accepted WebSocket connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a closed WebSocket connection.
func DecConnection() {
	ActiveConnections.Dec()
}
