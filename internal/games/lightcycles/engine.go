package lightcycles

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Broadcaster is the subset of plugin.Helpers the engine needs to emit
// events; narrowed to keep the engine's dependency surface small and
// testable with a fake.
type Broadcaster interface {
	SendToRoom(roomCode, event string, payload any)
	SendToRoomImmediate(roomCode, event string, payload any)
}

// Engine is one room's TickEngine: a fixed-timestep deterministic
// simulation loop for light-cycles. A room owns exactly one Engine, and
// the Engine owns its grid, walls, and cycles exclusively — nothing
// outside ever mutates them.
type Engine struct {
	roomCode string
	cfg      Config
	bus      Broadcaster

	mu       sync.Mutex
	cycles   map[string]*CycleState
	order    []string // deterministic per-tick iteration order
	grid     *CollisionGrid
	phase    Phase
	round    int
	scores   map[string]int
	ready    set.Set[string]
	gameTime float64

	nextMessageID uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	timers  []*time.Timer
}

// NewEngine constructs an Engine for roomCode. cfg's zero fields are NOT
// auto-defaulted; callers should start from DefaultConfig() and override.
func NewEngine(roomCode string, cfg Config, bus Broadcaster) *Engine {
	return &Engine{
		roomCode: roomCode,
		cfg:      cfg,
		bus:      bus,
		cycles:   make(map[string]*CycleState),
		grid:     NewCollisionGrid(cfg.GridSize),
		phase:    PhaseLobby,
		scores:   make(map[string]int),
		ready:    set.New[string](),
	}
}

// AddCycle registers a new cycle for playerID at an assigned spawn point.
// Safe to call only while the engine is in PhaseLobby or between rounds.
func (e *Engine) AddCycle(playerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cycles[playerID]; exists {
		return
	}
	spawn, dir := assignSpawn(len(e.cycles), e.cfg.ArenaSize)
	e.cycles[playerID] = newCycle(playerID, spawn, dir, e.cfg.Speed, e.gameTime)
	e.order = append(e.order, playerID)
}

// RemoveCycle drops playerID entirely, used on room:leave. Does not apply
// to a mid-round disconnect, which the plugin leaves driving straight.
func (e *Engine) RemoveCycle(playerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cycles, playerID)
	delete(e.scores, playerID)
	e.ready.Delete(playerID)
	for i, id := range e.order {
		if id == playerID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// SetReady records a player's ready state for the pre-round waiting room.
func (e *Engine) SetReady(playerID string, ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ready {
		e.ready.Insert(playerID)
	} else {
		e.ready.Delete(playerID)
	}
}

// AllReady reports whether every registered cycle's player is ready.
func (e *Engine) AllReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready.Len() >= len(e.cycles) && len(e.cycles) > 0
}

// Phase returns the engine's current sub-phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Start begins the room's countdown into round 1 and starts the tick
// goroutine. Safe to call multiple times; subsequent calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	e.mu.Lock()
	e.phase = PhaseCountdown
	e.round = 1
	e.mu.Unlock()

	metrics.TickEnginesActive.Inc()
	go e.runCountdown(ctx, 1)
	go e.loop(ctx)
}

// Stop halts the tick loop and drains any pending round-restart timer.
// Safe to call multiple times.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	close(e.stopCh)
	<-e.doneCh

	e.mu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.mu.Unlock()

	metrics.TickEnginesActive.Dec()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(tickInterval)
	syncTicker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	defer syncTicker.Stop()

	last := time.Now()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			drift := elapsed - tickInterval
			metrics.TickEngineDriftSeconds.WithLabelValues(e.roomCode).Set(drift.Seconds())
			if drift > 100*time.Millisecond {
				logging.Warn(ctx, "tick engine drift exceeds threshold",
					zap.String("room_code", e.roomCode), zap.Duration("drift", drift))
			}

			dt := elapsed.Seconds()
			if dt > maxDT {
				dt = maxDT
			}
			e.tick(ctx, dt)
		case <-syncTicker.C:
			e.broadcastSync()
		}
	}
}

func (e *Engine) tick(ctx context.Context, dt float64) {
	e.mu.Lock()
	if e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	e.gameTime += dt

	var eliminations []EliminationEvent
	for _, id := range e.order {
		c := e.cycles[id]
		if c == nil || !c.Alive {
			continue
		}
		if ev := e.stepCycle(c, dt); ev != nil {
			eliminations = append(eliminations, *ev)
		}
	}
	roundDone, winnerID, scores := e.checkRoundEndLocked()
	e.mu.Unlock()

	for _, ev := range eliminations {
		logging.Info(ctx, "cycle eliminated",
			zap.String("room_code", e.roomCode), zap.String("player_id", ev.PlayerID),
			zap.String("hit_type", string(ev.HitType)))
		e.bus.SendToRoomImmediate(e.roomCode, "eliminated", ev)
	}

	if roundDone {
		e.endRound(ctx, winnerID, scores)
	}
}

// stepCycle advances one cycle by dt, returning a non-nil elimination event
// if it died this tick. Grounded on the spec's five-step per-tick sequence.
func (e *Engine) stepCycle(c *CycleState, dt float64) *EliminationEvent {
	prevPos := c.Position
	moveDist := c.Speed * dt
	newPos := prevPos.Add(c.Direction.Scale(moveDist))
	newDistance := c.Distance + moveDist

	half := e.cfg.ArenaSize / 2
	wrappedPos, wrapped := wrapPosition(newPos, prevPos, half)

	if wrapped {
		if !e.cfg.WrapAround {
			impact := clampToArena(newPos, half)
			c.Position = impact
			c.Distance = newDistance
			c.Alive = false
			return &EliminationEvent{PlayerID: c.PlayerID, Position: impact, HitType: HitWall}
		}

		edge := clampToArena(newPos, half)
		c.closeWallAt(edge, newDistance, e.gameTime)
		c.Position = wrappedPos
		c.Distance = newDistance
		// Re-open the current segment at wrappedPos directly rather than
		// closing through it: closeWallAt would stretch the segment it just
		// opened at edge all the way across the arena to wrappedPos before
		// appending it, producing exactly the arena-spanning dangerous wall
		// the synthetic destination exists to avoid.
		c.Wall.Current = WallSegment{
			Start:         wrappedPos,
			End:           wrappedPos,
			DistanceStart: newDistance,
			TimeStart:     e.gameTime,
			OwnerID:       c.PlayerID,
			IsDangerous:   true,
		}

		msgID := e.mintMessageID()
		dest := Destination{
			Position: wrappedPos, Direction: c.Direction, Distance: newDistance,
			GameTime: e.gameTime, MessageID: msgID, PlayerID: c.PlayerID,
		}
		c.insertSorted(dest)
		e.bus.SendToRoomImmediate(e.roomCode, "destination", dest)
		return nil // wrap skips trail-collision for this tick
	}

	c.Position = newPos
	c.Distance = newDistance

	if ev := e.rasterizeAndCheck(c, prevPos, newPos); ev != nil {
		c.Alive = false
		return ev
	}

	c.extendWallTo(newPos, newDistance, e.gameTime)
	return nil
}

// rasterizeAndCheck walks the Bresenham path from prevPos to newPos,
// claiming untouched cells for c and returning an elimination event at the
// first offending cell, if any. Other-owned cells take precedence over
// self-owned cells at the same position (there is at most one owner per
// cell, so this precedence is structural rather than explicit).
func (e *Engine) rasterizeAndCheck(c *CycleState, prevPos, newPos Coord) *EliminationEvent {
	var hit *EliminationEvent
	first := true

	e.grid.rasterizeLine(prevPos, newPos, func(pos Coord) bool {
		defer func() { first = false }()

		owner, owned := e.grid.OwnerAt(pos)
		if !owned {
			e.grid.Claim(pos, c.PlayerID)
			return false
		}
		if owner == c.PlayerID {
			if first {
				return false // starting cell, already ours
			}
			if e.selfCollisionApplies(c, pos) {
				hit = &EliminationEvent{PlayerID: c.PlayerID, Position: pos, HitType: HitSelf}
				return true
			}
			return false
		}

		hit = &EliminationEvent{PlayerID: c.PlayerID, Position: pos, HitType: HitTrail, HitPlayerID: owner}
		return true
	})

	return hit
}

func (e *Engine) selfCollisionApplies(c *CycleState, cell Coord) bool {
	if !e.cfg.SelfCollisionEnabled {
		return false
	}
	if c.Distance-0 <= 3*e.cfg.GridSize {
		return false
	}
	dx := cell.X - c.SpawnPosition.X
	dz := cell.Z - c.SpawnPosition.Z
	distToSpawn := math.Hypot(dx, dz)
	return distToSpawn > 4*e.cfg.GridSize
}

// ApplyTurn processes a turn request, rejecting it (silently, idempotently)
// if the cycle is dead or still within its per-cycle turnDelay.
func (e *Engine) ApplyTurn(playerID string, turnDir int) {
	e.mu.Lock()
	c, ok := e.cycles[playerID]
	if !ok || !c.Alive || e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	if e.gameTime-c.LastTurnTime < e.cfg.TurnDelay {
		e.mu.Unlock()
		return
	}

	newDir := rotate90(c.Direction, turnDir)
	c.LastTurnTime = e.gameTime
	msgID := e.mintMessageID()
	dest := Destination{
		Position: c.Position, Direction: newDir, Distance: c.Distance,
		GameTime: e.gameTime, MessageID: msgID, PlayerID: playerID,
	}
	if !c.insertSorted(dest) {
		e.mu.Unlock()
		return
	}
	c.Direction = newDir
	c.closeWallAt(c.Position, c.Distance, e.gameTime)
	e.mu.Unlock()

	e.bus.SendToRoomImmediate(e.roomCode, "destination", dest)
}

// ApplyLegacyTurn maps an absolute legacy direction to a relative turn. A
// direction equal to the cycle's current or exactly opposite direction has
// an undefined relative turn and is ignored, per the spec's open question.
func (e *Engine) ApplyLegacyTurn(playerID, legacyDirection string) {
	absolute, ok := legacyDirectionVector(legacyDirection)
	if !ok {
		return
	}

	e.mu.Lock()
	c, ok := e.cycles[playerID]
	if !ok {
		e.mu.Unlock()
		return
	}
	current := c.Direction
	e.mu.Unlock()

	if absolute == current || absolute == current.Scale(-1) {
		return
	}
	if absolute == rotate90(current, 1) {
		e.ApplyTurn(playerID, 1)
		return
	}
	if absolute == rotate90(current, -1) {
		e.ApplyTurn(playerID, -1)
		return
	}
}

func (e *Engine) mintMessageID() uint64 {
	e.nextMessageID++
	return e.nextMessageID
}

// checkRoundEndLocked must be called with e.mu held. It returns whether the
// round just ended, the winner (if any), and a snapshot of scores.
func (e *Engine) checkRoundEndLocked() (bool, string, map[string]int) {
	if e.phase != PhasePlaying {
		return false, "", nil
	}

	total := len(e.order)
	if total == 0 {
		return false, "", nil
	}

	var alive []string
	for _, id := range e.order {
		if c := e.cycles[id]; c != nil && c.Alive {
			alive = append(alive, id)
		}
	}

	solo := total == 1
	if solo && len(alive) > 0 {
		return false, "", nil // the lone cycle is still alive
	}
	if !solo && len(alive) > 1 {
		return false, "", nil
	}

	var winner string
	switch {
	case solo:
		winner = e.order[0] // degenerate win: the only cycle, even though dead
	case len(alive) == 1:
		winner = alive[0]
	default:
		// all dead the same tick: tie, pick at random among all participants
		winner = e.order[rand.Intn(len(e.order))]
	}

	e.scores[winner]++
	e.phase = PhaseRoundOver

	scores := make(map[string]int, len(e.scores))
	for k, v := range e.scores {
		scores[k] = v
	}
	return true, winner, scores
}

func (e *Engine) endRound(ctx context.Context, winnerID string, scores map[string]int) {
	e.mu.Lock()
	round := e.round
	e.mu.Unlock()

	if scores[winnerID] >= e.cfg.RoundsToWin {
		e.mu.Lock()
		e.phase = PhaseGameOver
		e.mu.Unlock()
		e.bus.SendToRoom(e.roomCode, "game:over", gameOverPayload{WinnerID: winnerID, FinalScores: scores})
		return
	}

	e.bus.SendToRoom(e.roomCode, "round:over", roundOverPayload{WinnerID: winnerID, Round: round, Scores: scores})

	e.mu.Lock()
	timer := time.AfterFunc(roundRestartDelay, func() {
		e.resetRound()
		e.runCountdown(ctx, round+1)
	})
	e.timers = append(e.timers, timer)
	e.mu.Unlock()
}

// resetRound clears the grid and walls, respawns every cycle alive, and
// advances the round counter, keeping scores.
func (e *Engine) resetRound() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.grid.Reset()
	e.round++
	for i, id := range e.order {
		c := e.cycles[id]
		spawn, dir := assignSpawn(i, e.cfg.ArenaSize)
		c.reset(spawn, dir, e.gameTime)
	}
	e.phase = PhaseCountdown
}

func (e *Engine) runCountdown(ctx context.Context, round int) {
	for v := 3; v >= 1; v-- {
		e.bus.SendToRoom(e.roomCode, "countdown", countdownPayload{Value: v})
		select {
		case <-e.stopCh:
			return
		case <-time.After(1 * time.Second):
		}
	}

	e.mu.Lock()
	e.phase = PhasePlaying
	e.mu.Unlock()

	snap := e.Snapshot()
	e.bus.SendToRoom(e.roomCode, "round:start", roundStartPayload{
		Round: round, GameTime: e.gameTime, Players: snap, Config: e.cfg,
	})
}

func (e *Engine) broadcastSync() {
	e.mu.Lock()
	if e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	gameTime := e.gameTime
	e.mu.Unlock()

	e.bus.SendToRoom(e.roomCode, "sync", syncPayload{GameTime: gameTime, Players: e.Snapshot()})
}

// ApplySettingsUpdate merges a partial settings patch into the engine's
// config while still in the lobby, returning the resulting config. Has no
// effect once the round has started (settings cannot be changed in-flight).
func (e *Engine) ApplySettingsUpdate(frame settingsUpdateFrame) Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseLobby {
		return e.cfg
	}
	if frame.ArenaSize != nil {
		e.cfg.ArenaSize = *frame.ArenaSize
		e.grid = NewCollisionGrid(e.cfg.GridSize)
	}
	if frame.Speed != nil {
		e.cfg.Speed = *frame.Speed
	}
	if frame.RoundsToWin != nil {
		e.cfg.RoundsToWin = *frame.RoundsToWin
	}
	if frame.WrapAround != nil {
		e.cfg.WrapAround = *frame.WrapAround
	}
	if frame.SelfCollisionEnabled != nil {
		e.cfg.SelfCollisionEnabled = *frame.SelfCollisionEnabled
	}
	return e.cfg
}

// CycleSnapshot is the externally-visible state of one cycle, used both by
// the periodic full sync and SerializeRoom.
type CycleSnapshot struct {
	ID        string  `json:"id"`
	Position  Coord   `json:"position"`
	Direction Coord   `json:"direction"`
	Distance  float64 `json:"distance"`
	Speed     float64 `json:"speed"`
	Alive     bool    `json:"alive"`
}

// Snapshot returns the current state of every cycle, in deterministic
// (join) order.
func (e *Engine) Snapshot() []CycleSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]CycleSnapshot, 0, len(e.order))
	for _, id := range e.order {
		c := e.cycles[id]
		if c == nil {
			continue
		}
		out = append(out, CycleSnapshot{
			ID: c.PlayerID, Position: c.Position, Direction: c.Direction,
			Distance: c.Distance, Speed: c.Speed, Alive: c.Alive,
		})
	}
	return out
}

// wrapPosition returns the wrapped coordinate and whether wrapping
// occurred. It checks next's X axis first, then its Z axis, and wraps at
// most one axis per call; prev is not consulted.
func wrapPosition(next, prev Coord, half float64) (Coord, bool) {
	if next.X > half {
		return Coord{X: -half + wrapEpsilon, Z: next.Z}, true
	}
	if next.X < -half {
		return Coord{X: half - wrapEpsilon, Z: next.Z}, true
	}
	if next.Z > half {
		return Coord{X: next.X, Z: -half + wrapEpsilon}, true
	}
	if next.Z < -half {
		return Coord{X: next.X, Z: half - wrapEpsilon}, true
	}
	return next, false
}

func clampToArena(pos Coord, half float64) Coord {
	return Coord{
		X: math.Max(-half, math.Min(half, pos.X)),
		Z: math.Max(-half, math.Min(half, pos.Z)),
	}
}
