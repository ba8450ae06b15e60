package lightcycles

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
)

// GameID is this plugin's stable id and routing namespace.
const GameID = "lightcycles"

// Plugin wires the TickEngine into the substrate: one Engine per active
// room, created on room:create and torn down when the room empties or its
// host leaves.
type Plugin struct {
	plugin.BaseLifecycle

	helpers plugin.Helpers

	mu      sync.Mutex
	engines map[string]*Engine
}

// New constructs an unregistered Plugin; call plugin.Registry.Register to
// activate it.
func New() *Plugin {
	return &Plugin{engines: make(map[string]*Engine)}
}

func (p *Plugin) ID() string        { return GameID }
func (p *Plugin) Namespace() string { return GameID }

func (p *Plugin) DefaultSettings() json.RawMessage {
	data, _ := json.Marshal(DefaultConfig())
	return data
}

func (p *Plugin) OnInitialize(helpers plugin.Helpers) error {
	p.helpers = helpers
	return nil
}

func (p *Plugin) OnCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for code, e := range p.engines {
		e.Stop()
		delete(p.engines, code)
	}
}

func (p *Plugin) OnRoomCreate(room *roomregistry.Room) {
	room.Lock()
	cfg := DefaultConfig()
	if len(room.Settings.Data) > 0 {
		_ = json.Unmarshal(room.Settings.Data, &cfg) // partial decode tolerated, zero fields fall back below
	}
	cfg = fillDefaults(cfg)
	room.Settings.Data, _ = json.Marshal(cfg)
	code := room.Code
	room.Unlock()

	engine := NewEngine(code, cfg, &autoStoppingBus{
		helpers: p.helpers,
		onGameOver: func() {
			room.Lock()
			room.GameState.Phase = roomregistry.PhaseLobby
			room.Unlock()
			p.stopEngine(code)
		},
	})

	p.mu.Lock()
	p.engines[code] = engine
	p.mu.Unlock()
}

func (p *Plugin) OnPlayerJoin(room *roomregistry.Room, player *roomregistry.Player, reconnecting bool) {
	if reconnecting {
		return
	}
	if e := p.engineFor(room.Code); e != nil {
		e.AddCycle(player.PlayerID)
	}
}

func (p *Plugin) OnPlayerLeave(room *roomregistry.Room, player *roomregistry.Player) {
	e := p.engineFor(room.Code)
	if e == nil {
		return
	}
	e.RemoveCycle(player.PlayerID)

	room.RLock()
	empty := room.PlayerCount() == 0
	room.RUnlock()
	if empty {
		p.stopEngine(room.Code)
	}
}

func (p *Plugin) OnHostLeave(room *roomregistry.Room) {
	p.stopEngine(room.Code)
}

func (p *Plugin) engineFor(roomCode string) *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engines[roomCode]
}

func (p *Plugin) stopEngine(roomCode string) {
	p.mu.Lock()
	e, ok := p.engines[roomCode]
	if ok {
		delete(p.engines, roomCode)
	}
	p.mu.Unlock()
	if ok {
		e.Stop()
	}
}

func (p *Plugin) SerializeRoom(room *roomregistry.Room, perspectiveConnectionID string) (any, error) {
	e := p.engineFor(room.Code)
	if e == nil {
		return nil, fmt.Errorf("no engine for room %s", room.Code)
	}

	room.RLock()
	viewer, isViewer := room.Players[perspectiveConnectionID]
	room.RUnlock()

	view := roomView{
		Phase:   string(e.Phase()),
		Players: e.Snapshot(),
	}
	if isViewer {
		view.YourPlayerID = viewer.PlayerID
	}
	return view, nil
}

type roomView struct {
	Phase        string          `json:"phase"`
	Players      []CycleSnapshot `json:"players"`
	YourPlayerID string          `json:"yourPlayerId,omitempty"`
}

func (p *Plugin) Handlers() map[string]plugin.Handler {
	return map[string]plugin.Handler{
		"turn":            p.handleTurn,
		"player:ready":    p.handleReady,
		"settings:update": p.handleSettingsUpdate,
		"game:start":      p.handleGameStart,
		"restart":         p.handleRestart,
	}
}

func (p *Plugin) handleTurn(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	var frame turnFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil // malformed destinations from clients are dropped, not errored
	}

	playerID, ok := p.resolvePlayer(room, conn)
	if !ok {
		return nil
	}

	e := p.engineFor(room.Code)
	if e == nil {
		return nil
	}

	switch {
	case frame.TurnDir != nil:
		e.ApplyTurn(playerID, *frame.TurnDir)
	case frame.LegacyDirection != "":
		e.ApplyLegacyTurn(playerID, frame.LegacyDirection)
	}
	return nil
}

func (p *Plugin) handleReady(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	var frame readyFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil
	}
	playerID, ok := p.resolvePlayer(room, conn)
	if !ok {
		return nil
	}
	if e := p.engineFor(room.Code); e != nil {
		e.SetReady(playerID, frame.Ready)
	}
	return nil
}

func (p *Plugin) handleSettingsUpdate(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	if !p.isHost(room, conn) {
		helpers.SendError(conn.ConnectionID(), "only the host can change settings", "NOT_HOST")
		return nil
	}

	var frame settingsUpdateFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil
	}

	e := p.engineFor(room.Code)
	if e == nil {
		return nil
	}
	if e.Phase() != PhaseLobby {
		helpers.SendError(conn.ConnectionID(), "cannot change settings once the game has started", "WRONG_PHASE")
		return nil
	}

	cfg := e.ApplySettingsUpdate(frame)

	room.Lock()
	room.Settings.Data, _ = json.Marshal(cfg)
	room.Unlock()

	helpers.SendToRoom(room.Code, "state:update", cfg)
	return nil
}

func (p *Plugin) handleGameStart(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	if !p.isHost(room, conn) {
		helpers.SendError(conn.ConnectionID(), "only the host can start the game", "NOT_HOST")
		return nil
	}

	e := p.engineFor(room.Code)
	if e == nil {
		return nil
	}
	if e.Phase() != PhaseLobby {
		helpers.SendError(conn.ConnectionID(), "game already started", "WRONG_PHASE")
		return nil
	}

	e.Start(ctx)

	room.Lock()
	room.GameState.Phase = roomregistry.PhaseRunning
	room.Unlock()
	return nil
}

func (p *Plugin) handleRestart(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	if !p.isHost(room, conn) {
		helpers.SendError(conn.ConnectionID(), "only the host can restart", "NOT_HOST")
		return nil
	}

	p.stopEngine(room.Code)
	p.OnRoomCreate(room) // rebuilds a fresh engine with the room's stored settings
	if e := p.engineFor(room.Code); e != nil {
		room.RLock()
		for _, pl := range room.Players {
			e.AddCycle(pl.PlayerID)
		}
		room.RUnlock()
	}
	return nil
}

func (p *Plugin) resolvePlayer(room *roomregistry.Room, conn plugin.Connection) (string, bool) {
	room.RLock()
	defer room.RUnlock()
	pl, ok := room.Players[conn.ConnectionID()]
	if !ok {
		return "", false
	}
	return pl.PlayerID, true
}

func (p *Plugin) isHost(room *roomregistry.Room, conn plugin.Connection) bool {
	room.RLock()
	defer room.RUnlock()
	pl, ok := room.Players[conn.ConnectionID()]
	return ok && pl.IsHost
}

func fillDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = def.ArenaSize
	}
	if cfg.Speed == 0 {
		cfg.Speed = def.Speed
	}
	if cfg.GridSize == 0 {
		cfg.GridSize = def.GridSize
	}
	if cfg.TurnDelay == 0 {
		cfg.TurnDelay = def.TurnDelay
	}
	if cfg.RoundsToWin == 0 {
		cfg.RoundsToWin = def.RoundsToWin
	}
	return cfg
}

// autoStoppingBus wraps the hub's Helpers to stop the engine once it emits
// game:over, since the engine cannot safely stop itself from within its own
// tick goroutine.
type autoStoppingBus struct {
	helpers    plugin.Helpers
	onGameOver func()
}

func (b *autoStoppingBus) SendToRoom(roomCode, event string, payload any) {
	b.helpers.SendToRoom(roomCode, event, payload)
	if event == "game:over" {
		go b.onGameOver()
	}
}

func (b *autoStoppingBus) SendToRoomImmediate(roomCode, event string, payload any) {
	b.helpers.SendToRoomImmediate(roomCode, event, payload)
}
