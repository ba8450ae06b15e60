// Package hub implements the ConnectionHub (spec component 4.E): accepting
// transport connections, validating and routing inbound frames, and
// throttling per-room broadcasts.
package hub

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/ennuiii/gamebuddies-server/internal/middleware"
	"github.com/ennuiii/gamebuddies-server/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dispatcher routes accepted connections and inbound frames into the rest
// of the system. It is implemented by the LifecycleCoordinator; the Hub
// depends only on this interface, never on the coordinator's concrete
// type.
type Dispatcher interface {
	// HandleConnect is invoked once a connection finishes its transport
	// handshake, before any frame has been read.
	HandleConnect(conn *Connection)

	// HandleDisconnect is invoked when the connection's socket closes for
	// any reason (error, timeout, or client close).
	HandleDisconnect(conn *Connection)

	// HandleFrame is invoked for every inbound, successfully-decoded frame.
	HandleFrame(ctx context.Context, conn *Connection, event string, payload []byte)
}

// Hub accepts WebSocket connections, tracks room multicast-group
// membership, and exposes the throttled/unthrottled send operations that
// satisfy plugin.Helpers.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connectionId -> Connection
	groups      map[string]map[string]*Connection // roomCode -> connectionId -> Connection
	throttles   map[string]*roomThrottle          // roomCode -> throttle state

	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	limiter    *ratelimit.RateLimiter
}

// SetDispatcher assigns the Hub's Dispatcher after construction, for the
// common wiring case where the dispatcher (the LifecycleCoordinator) itself
// depends on the Hub and so cannot be built before it.
func (h *Hub) SetDispatcher(dispatcher Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = dispatcher
}

// New constructs a Hub. dispatcher may be nil and assigned later via
// SetDispatcher when the dispatcher itself depends on the Hub. allowedOrigins
// controls the upgrader's CheckOrigin; an empty list allows any origin
// (useful for local development only).
func New(dispatcher Dispatcher, limiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		throttles:   make(map[string]*roomThrottle),
		dispatcher:  dispatcher,
		limiter:     limiter,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS upgrades an incoming HTTP request to a WebSocket connection and
// starts its read/write pumps. Long-poll fallback is explicitly not
// implemented; WebSocket is the only supported transport.
func (h *Hub) ServeWS(c *gin.Context) {
	ip := c.ClientIP()
	if h.limiter != nil && !h.limiter.CheckWebSocketConnect(c.Request.Context(), ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	connID := middleware.NewConnectionCorrelationID()
	connection := newConnection(connID, conn, h)

	h.mu.Lock()
	h.connections[connID] = connection
	h.mu.Unlock()

	metrics.IncConnection()
	h.dispatcher.HandleConnect(connection)

	go connection.writePump()
	go connection.readPump()
}

// dispatch hands an inbound frame to the Dispatcher, timing the call and
// recording its outcome. A panic inside a plugin or coordinator handler is
// recovered here rather than crashing the connection's readPump, matching
// the panic-recovery safety net around the teacher's own per-client send
// path; the frame is counted "panic" instead of "ok" so a misbehaving
// handler shows up on /metrics rather than silently dropping frames.
func (h *Hub) dispatch(ctx context.Context, conn *Connection, frame Frame) {
	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			logging.Error(ctx, "recovered from panic in frame dispatch",
				zap.String("event", frame.Event), zap.Any("panic", r))
		}
		metrics.FramesTotal.WithLabelValues(frame.Event, status).Inc()
		metrics.FrameProcessingDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())
	}()

	h.dispatcher.HandleFrame(ctx, conn, frame.Event, frame.Payload)
}

func (h *Hub) handleDisconnect(conn *Connection) {
	h.mu.Lock()
	delete(h.connections, conn.id)
	for code, members := range h.groups {
		if _, ok := members[conn.id]; ok {
			delete(members, conn.id)
			if len(members) == 0 {
				delete(h.groups, code)
			}
		}
		_ = code
	}
	h.mu.Unlock()

	h.dispatcher.HandleDisconnect(conn)
}

// JoinGroup adds conn to the multicast group named by roomCode.
func (h *Hub) JoinGroup(roomCode string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[roomCode] == nil {
		h.groups[roomCode] = make(map[string]*Connection)
	}
	h.groups[roomCode][conn.id] = conn
}

// LeaveGroup removes connectionID from the multicast group named by
// roomCode, evicting the throttle state once the group is empty.
func (h *Hub) LeaveGroup(roomCode, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[roomCode]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.groups, roomCode)
		if t, ok := h.throttles[roomCode]; ok {
			t.stop()
			delete(h.throttles, roomCode)
		}
	}
}

// DestroyGroup immediately evicts every member and the throttle state for
// roomCode, used when a room is destroyed outright (e.g. host disconnect).
func (h *Hub) DestroyGroup(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, roomCode)
	if t, ok := h.throttles[roomCode]; ok {
		t.stop()
		delete(h.throttles, roomCode)
	}
}

// GetConnection returns the connection registered under id, or nil.
func (h *Hub) GetConnection(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[id]
}

// ActiveConnectionCount returns the number of currently tracked connections.
func (h *Hub) ActiveConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) throttleFor(roomCode string) *roomThrottle {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.throttles[roomCode]
	if !ok {
		t = newRoomThrottle()
		h.throttles[roomCode] = t
	}
	return t
}

func (h *Hub) membersOf(roomCode string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.groups[roomCode]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// SendToRoom satisfies plugin.Helpers: coalesces to at most one flush per
// room per broadcast window, the latest payload winning.
func (h *Hub) SendToRoom(roomCode, event string, payload any) {
	t := h.throttleFor(roomCode)
	t.schedule(event, payload, func(event string, payload any) {
		h.flushToRoom(roomCode, event, payload)
	})
}

// SendToRoomImmediate satisfies plugin.Helpers: bypasses the coalescing
// window entirely, used for the TickEngine's own turn destinations so
// input stays responsive.
func (h *Hub) SendToRoomImmediate(roomCode, event string, payload any) {
	h.flushToRoom(roomCode, event, payload)
}

func (h *Hub) flushToRoom(roomCode, event string, payload any) {
	for _, conn := range h.membersOf(roomCode) {
		conn.sendFrame(event, payload)
	}
}

// SendToConnection satisfies plugin.Helpers: sends directly to one
// connection, never throttled.
func (h *Hub) SendToConnection(connectionID, event string, payload any) {
	conn := h.GetConnection(connectionID)
	if conn == nil {
		return
	}
	conn.sendFrame(event, payload)
}

// SendError satisfies plugin.Helpers.
func (h *Hub) SendError(connectionID, message, code string) {
	conn := h.GetConnection(connectionID)
	if conn == nil {
		return
	}
	conn.sendError(message, code)
}
