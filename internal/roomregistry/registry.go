package roomregistry

import (
	"sync"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/apperr"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/ennuiii/gamebuddies-server/internal/validator"
	"github.com/google/uuid"
)

// idleThreshold is how long a room may sit without activity before the
// reaper destroys it.
const idleThreshold = 2 * time.Hour

// reapInterval is how often the idle reaper sweeps the registry.
const reapInterval = 5 * time.Minute

const maxCodeGenerationAttempts = 100

// Registry indexes rooms by code and players by connection id. It is the
// only owner of the rooms map; individual Room instances own their own
// finer-grained state behind their own mutex.
type Registry struct {
	mu sync.RWMutex

	rooms          map[string]*Room  // keyed by room code
	connectionRoom map[string]string // connectionId -> room code

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New constructs a Registry and starts its idle-room reaper goroutine.
func New() *Registry {
	reg := &Registry{
		rooms:          make(map[string]*Room),
		connectionRoom: make(map[string]string),
		stopReaper:     make(chan struct{}),
		reaperDone:     make(chan struct{}),
	}
	go reg.reapLoop()
	return reg
}

// Stop terminates the idle reaper. Safe to call once during shutdown.
func (reg *Registry) Stop() {
	close(reg.stopReaper)
	<-reg.reaperDone
}

// CreateRoom allocates a fresh Room, generating a unique code (retrying up
// to 100 times, then falling back to a truncated UUID) unless codeOverride
// is supplied. A supplied codeOverride is used as-is; one that is invalid
// or already in use is rejected with an error. hostPlayer is registered as
// the first player and as host.
func (reg *Registry) CreateRoom(gameID string, hostPlayer *Player, settings Settings, codeOverride string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, err := reg.allocateCode(codeOverride)
	if err != nil {
		return nil, err
	}

	room := newRoom(code, gameID, settings)
	hostPlayer.IsHost = true
	room.Players[hostPlayer.ConnectionID] = hostPlayer
	room.HostPlayerID = hostPlayer.PlayerID
	room.HostConnectionID = hostPlayer.ConnectionID

	reg.rooms[code] = room
	reg.connectionRoom[hostPlayer.ConnectionID] = code

	metrics.ActiveRooms.WithLabelValues(gameID).Inc()
	metrics.RoomPlayers.WithLabelValues(code).Set(1)

	return room, nil
}

// allocateCode must be called with reg.mu held.
func (reg *Registry) allocateCode(codeOverride string) (string, error) {
	if codeOverride != "" {
		code, err := validator.ValidateRoomCode(codeOverride)
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidCode, "invalid room code override", err)
		}
		if _, exists := reg.rooms[code]; exists {
			return "", apperr.New(apperr.KindStateViolation, apperr.CodeRoomFull, "requested room code already in use")
		}
		return code, nil
	}

	for i := 0; i < maxCodeGenerationAttempts; i++ {
		code, err := validator.GenerateRoomCode()
		if err != nil {
			return "", apperr.Wrap(apperr.KindFatal, apperr.CodeInternal, "failed to generate room code", err)
		}
		if _, exists := reg.rooms[code]; !exists {
			return code, nil
		}
	}

	// Astronomically unlikely fallback: derive a code-shaped string from a
	// UUID so the collision space effectively becomes unique.
	fallback := uuid.NewString()
	code := "R" + fallback[len(fallback)-5:]
	return code, nil
}

// AddPlayer registers a new player into the room identified by code.
// Rejects if the room is not found, full, or not accepting joins.
func (reg *Registry) AddPlayer(code string, player *Player) (*Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeRoomNotFound, "room not found")
	}

	room.Lock()
	defer room.Unlock()

	if room.GameState.Phase != PhaseLobby && room.GameState.Phase != PhaseWaiting {
		return nil, apperr.New(apperr.KindStateViolation, apperr.CodeWrongPhase, "room is not accepting new players")
	}
	if len(room.Players) >= room.Settings.MaxPlayers {
		return nil, apperr.New(apperr.KindStateViolation, apperr.CodeRoomFull, "room is full")
	}

	room.Players[player.ConnectionID] = player
	room.touch()

	reg.mu.Lock()
	reg.connectionRoom[player.ConnectionID] = code
	reg.mu.Unlock()

	metrics.RoomPlayers.WithLabelValues(code).Set(float64(len(room.Players)))

	return room, nil
}

// RemovePlayer drops connectionID's mapping from whichever room it belongs
// to. If the leaver was host, transfers host to the first remaining player
// in map iteration order. If the room becomes empty, it is destroyed.
func (reg *Registry) RemovePlayer(connectionID string) (*Room, *Player) {
	reg.mu.Lock()
	code, ok := reg.connectionRoom[connectionID]
	if ok {
		delete(reg.connectionRoom, connectionID)
	}
	reg.mu.Unlock()
	if !ok {
		return nil, nil
	}

	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	room.Lock()
	player, ok := room.Players[connectionID]
	if !ok {
		room.Unlock()
		return room, nil
	}
	delete(room.Players, connectionID)

	if player.IsHost && len(room.Players) > 0 {
		for _, next := range room.Players {
			next.IsHost = true
			room.HostPlayerID = next.PlayerID
			room.HostConnectionID = next.ConnectionID
			break
		}
	}
	room.touch()
	empty := len(room.Players) == 0
	room.Unlock()

	metrics.RoomPlayers.WithLabelValues(code).Set(float64(room.PlayerCount()))

	if empty {
		reg.destroyRoom(code)
	}

	return room, player
}

// MarkDisconnected flags the player owning connectionID as disconnected,
// enabling a client-side countdown until the grace timer elapses.
func (reg *Registry) MarkDisconnected(connectionID string) (*Room, *Player) {
	room, player := reg.GetByConnection(connectionID)
	if room == nil || player == nil {
		return nil, nil
	}

	room.Lock()
	defer room.Unlock()
	player.Connected = false
	now := time.Now()
	player.DisconnectedAt = &now
	room.touch()

	return room, player
}

// Reconnect rebinds the player previously reachable at oldConnectionID to
// newConnectionID, clearing disconnect flags. Resilient to the case where
// another path already rebound the player: returns (nil, nil) rather than
// erroring, so callers can fall back to a manual rebind by playerId.
func (reg *Registry) Reconnect(oldConnectionID, newConnectionID string) (*Room, *Player) {
	reg.mu.Lock()
	code, ok := reg.connectionRoom[oldConnectionID]
	if !ok {
		reg.mu.Unlock()
		return nil, nil
	}
	delete(reg.connectionRoom, oldConnectionID)
	reg.connectionRoom[newConnectionID] = code
	reg.mu.Unlock()

	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	room.Lock()
	defer room.Unlock()

	player, ok := room.Players[oldConnectionID]
	if !ok {
		return nil, nil
	}
	delete(room.Players, oldConnectionID)
	player.ConnectionID = newConnectionID
	player.Connected = true
	player.DisconnectedAt = nil
	room.Players[newConnectionID] = player

	if room.HostPlayerID == player.PlayerID {
		room.HostConnectionID = newConnectionID
	}
	room.touch()

	return room, player
}

// ReconnectByPlayerID is the manual fallback for the "already migrated"
// race: finds the player by stable playerId anywhere in the room and
// rebinds its connection id directly.
func (reg *Registry) ReconnectByPlayerID(code, playerID, newConnectionID string) (*Room, *Player) {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	room.Lock()
	defer room.Unlock()

	var found *Player
	var oldConnID string
	for connID, p := range room.Players {
		if p.PlayerID == playerID {
			found = p
			oldConnID = connID
			break
		}
	}
	if found == nil {
		return nil, nil
	}

	delete(room.Players, oldConnID)
	found.ConnectionID = newConnectionID
	found.Connected = true
	found.DisconnectedAt = nil
	room.Players[newConnectionID] = found

	if room.HostPlayerID == found.PlayerID {
		room.HostConnectionID = newConnectionID
	}
	room.touch()

	reg.mu.Lock()
	delete(reg.connectionRoom, oldConnID)
	reg.connectionRoom[newConnectionID] = code
	reg.mu.Unlock()

	return room, found
}

// GetByCode returns the room for code, or nil if not found.
func (reg *Registry) GetByCode(code string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[code]
}

// GetByConnection returns the room and player owning connectionID, or
// (nil, nil) if not found.
func (reg *Registry) GetByConnection(connectionID string) (*Room, *Player) {
	reg.mu.RLock()
	code, ok := reg.connectionRoom[connectionID]
	reg.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	room.RLock()
	defer room.RUnlock()
	player, ok := room.Players[connectionID]
	if !ok {
		return room, nil
	}
	return room, player
}

// GetPlayer returns the player at connectionID within room, or nil.
func (reg *Registry) GetPlayer(room *Room, connectionID string) *Player {
	room.RLock()
	defer room.RUnlock()
	return room.Players[connectionID]
}

// RoomCount returns the number of currently tracked rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Snapshot returns a shallow slice of all tracked rooms, for admin/stats
// reporting. Callers must not mutate the returned rooms without locking
// them individually.
func (reg *Registry) Snapshot() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

func (reg *Registry) destroyRoom(code string) {
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, code)
	for connID, c := range reg.connectionRoom {
		if c == code {
			delete(reg.connectionRoom, connID)
		}
	}
	reg.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(room.GameID).Dec()
	metrics.RoomPlayers.DeleteLabelValues(code)
}

// DestroyRoom destroys the room identified by code unconditionally
// (used for immediate host-disconnect teardown).
func (reg *Registry) DestroyRoom(code string) {
	reg.destroyRoom(code)
}

func (reg *Registry) reapLoop() {
	defer close(reg.reaperDone)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.stopReaper:
			return
		case <-ticker.C:
			reg.reapIdleRooms()
		}
	}
}

func (reg *Registry) reapIdleRooms() {
	now := time.Now()

	reg.mu.RLock()
	var stale []string
	for code, room := range reg.rooms {
		room.RLock()
		idle := now.Sub(room.LastActivity)
		room.RUnlock()
		if idle > idleThreshold {
			stale = append(stale, code)
		}
	}
	reg.mu.RUnlock()

	for _, code := range stale {
		reg.destroyRoom(code)
	}
}
