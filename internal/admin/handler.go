// Package admin implements the read-only HTTP surface used by operators
// and the external platform to inspect server health and room/session
// stats. It never mutates RoomRegistry, PluginRegistry, or Hub state.
package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ennuiii/gamebuddies-server/internal/platform"
	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
)

// Handler serves /health, /api/stats, and /api/stats/:gameId from
// snapshots of the room registry and plugin registry. It holds no state
// of its own beyond its dependencies' references.
type Handler struct {
	rooms      *roomregistry.Registry
	plugins    *plugin.Registry
	platformCB platformChecker
	startedAt  time.Time
}

// platformChecker is the narrow slice of platform.Client this package
// depends on, so tests can substitute a fake without an HTTP server.
type platformChecker interface {
	Healthy() bool
}

// NewHandler constructs a Handler. platformClient may be nil when no
// external platform is configured.
func NewHandler(rooms *roomregistry.Registry, plugins *plugin.Registry, platformClient *platform.Client) *Handler {
	var checker platformChecker
	if platformClient != nil {
		checker = platformClient
	}
	return &Handler{rooms: rooms, plugins: plugins, platformCB: checker, startedAt: time.Now()}
}

// Register mounts this handler's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	r.GET("/api/stats", h.Stats)
	r.GET("/api/stats/:gameId", h.StatsForGame)
}

type healthResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Uptime    float64  `json:"uptime"`
	Games     []string `json:"games"`
}

// Health is the spec's single combined health endpoint.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startedAt).Seconds(),
		Games:     h.plugins.IDs(),
	})
}

type livenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Liveness reports the process is alive with no dependency checks.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, livenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Readiness reports whether every configured dependency is reachable.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]string{"rooms": "healthy"}
	allHealthy := true

	if h.platformCB != nil {
		if h.platformCB.Healthy() {
			checks["platform"] = "healthy"
		} else {
			checks["platform"] = "unhealthy"
			allHealthy = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, readinessResponse{Status: status, Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

type serverStats struct {
	Uptime     float64 `json:"uptime"`
	MemoryMB   float64 `json:"memoryMb"`
	Goroutines int     `json:"goroutines"`
}

type statsResponse struct {
	Server   serverStats    `json:"server"`
	Rooms    int            `json:"rooms"`
	Sessions int            `json:"sessions"`
	Games    map[string]int `json:"games"`
}

// Stats returns a process-wide snapshot of rooms, sessions, and memory.
// GET /api/stats
func (h *Handler) Stats(c *gin.Context) {
	rooms := h.rooms.Snapshot()

	sessions := 0
	byGame := make(map[string]int)
	for _, room := range rooms {
		room.RLock()
		sessions += room.PlayerCount()
		byGame[room.GameID]++
		room.RUnlock()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, statsResponse{
		Server: serverStats{
			Uptime:     time.Since(h.startedAt).Seconds(),
			MemoryMB:   float64(mem.Alloc) / (1024 * 1024),
			Goroutines: runtime.NumGoroutine(),
		},
		Rooms:    len(rooms),
		Sessions: sessions,
		Games:    byGame,
	})
}

type roomSummary struct {
	Code         string `json:"code"`
	Phase        string `json:"phase"`
	PlayerCount  int    `json:"playerCount"`
	CreatedAt    string `json:"createdAt"`
	LastActivity string `json:"lastActivity"`
}

// StatsForGame returns every active room for one game id.
// GET /api/stats/:gameId
func (h *Handler) StatsForGame(c *gin.Context) {
	gameID := c.Param("gameId")

	var rooms []roomSummary
	for _, room := range h.rooms.Snapshot() {
		if room.GameID != gameID {
			continue
		}
		room.RLock()
		rooms = append(rooms, roomSummary{
			Code:         room.Code,
			Phase:        string(room.GameState.Phase),
			PlayerCount:  room.PlayerCount(),
			CreatedAt:    room.CreatedAt.UTC().Format(time.RFC3339),
			LastActivity: room.LastActivity.UTC().Format(time.RFC3339),
		})
		room.RUnlock()
	}

	if rooms == nil {
		rooms = []roomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"gameId": gameID, "rooms": rooms})
}
