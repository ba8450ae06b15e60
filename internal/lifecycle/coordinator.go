// Package lifecycle implements the LifecycleCoordinator (spec component
// 4.F): it sits between the ConnectionHub and the PluginRegistry,
// orchestrating room create/join/reconnect/disconnect/host-transfer
// semantics and invoking plugin lifecycle hooks at the right moments.
package lifecycle

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ennuiii/gamebuddies-server/internal/apperr"
	"github.com/ennuiii/gamebuddies-server/internal/hub"
	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/platform"
	"github.com/ennuiii/gamebuddies-server/internal/platformauth"
	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/ratelimit"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
	"github.com/ennuiii/gamebuddies-server/internal/sessionstore"
	"github.com/ennuiii/gamebuddies-server/internal/validator"
)

// disconnectGrace is how long a non-host player's slot is held open for
// reconnection before the player is permanently removed.
const disconnectGrace = 60 * time.Second

// HubOps is the narrow slice of *hub.Hub the coordinator depends on: the
// full plugin.Helpers send surface plus room-group membership. Depending
// on this interface rather than *hub.Hub keeps the dependency direction
// the same as Dispatcher's: lifecycle depends on hub, never the reverse.
type HubOps interface {
	plugin.Helpers
	JoinGroup(roomCode string, conn *hub.Connection)
	LeaveGroup(roomCode, connectionID string)
	DestroyGroup(roomCode string)
}

// Coordinator implements hub.Dispatcher.
type Coordinator struct {
	rooms    *roomregistry.Registry
	sessions *sessionstore.Store
	plugins  *plugin.Registry
	hubOps   HubOps
	platform *platform.Client
	limiter  *ratelimit.RateLimiter
	auth     platformauth.TokenValidator

	mu           sync.Mutex
	pendingGrace map[string]*time.Timer // playerId -> grace timer
}

// NewCoordinator wires a Coordinator. auth may be nil, in which case
// platform-launch-token verification is skipped and isPlatformRoom flows
// through unauthenticated.
func NewCoordinator(
	rooms *roomregistry.Registry,
	sessions *sessionstore.Store,
	plugins *plugin.Registry,
	hubOps HubOps,
	platformClient *platform.Client,
	limiter *ratelimit.RateLimiter,
	auth platformauth.TokenValidator,
) *Coordinator {
	return &Coordinator{
		rooms:        rooms,
		sessions:     sessions,
		plugins:      plugins,
		hubOps:       hubOps,
		platform:     platformClient,
		limiter:      limiter,
		auth:         auth,
		pendingGrace: make(map[string]*time.Timer),
	}
}

// HandleConnect satisfies hub.Dispatcher. Nothing is resolved yet: a
// connection isn't associated with a room until room:create or room:join.
func (c *Coordinator) HandleConnect(conn *hub.Connection) {}

// HandleDisconnect satisfies hub.Dispatcher.
func (c *Coordinator) HandleDisconnect(conn *hub.Connection) {
	connID := conn.ConnectionID()
	room, player := c.rooms.GetByConnection(connID)
	if room == nil || player == nil {
		return
	}

	if player.IsHost {
		c.finalizeHostDisconnect(room, player)
		return
	}
	c.armGraceTimer(room, player, connID)
}

func (c *Coordinator) finalizeHostDisconnect(room *roomregistry.Room, player *roomregistry.Player) {
	room.RLock()
	code, gameID := room.Code, room.GameID
	room.RUnlock()

	c.hubOps.SendToRoomImmediate(code, "host:disconnected", hostDisconnectedPayload{PlayerID: player.PlayerID})
	c.rooms.DestroyRoom(code)
	c.sessions.DeleteByRoom(code)
	c.hubOps.DestroyGroup(code)

	if p := c.plugins.Get(gameID); p != nil {
		p.OnHostLeave(room)
	}
}

func (c *Coordinator) armGraceTimer(room *roomregistry.Room, player *roomregistry.Player, connID string) {
	c.rooms.MarkDisconnected(connID)

	room.RLock()
	code, gameID := room.Code, room.GameID
	room.RUnlock()

	c.hubOps.SendToRoom(code, "player:disconnected", playerDisconnectedPayload{PlayerID: player.PlayerID})
	if p := c.plugins.Get(gameID); p != nil {
		p.OnPlayerDisconnected(room, player)
	}

	c.mu.Lock()
	if existing, ok := c.pendingGrace[player.PlayerID]; ok {
		existing.Stop()
	}
	c.pendingGrace[player.PlayerID] = time.AfterFunc(disconnectGrace, func() {
		c.finalizeGraceExpiry(room, player)
	})
	c.mu.Unlock()
}

// cancelGrace stops and forgets a pending grace timer, called on
// reconnect or explicit leave.
func (c *Coordinator) cancelGrace(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pendingGrace[playerID]; ok {
		t.Stop()
		delete(c.pendingGrace, playerID)
	}
}

func (c *Coordinator) finalizeGraceExpiry(room *roomregistry.Room, player *roomregistry.Player) {
	c.mu.Lock()
	delete(c.pendingGrace, player.PlayerID)
	c.mu.Unlock()

	room.RLock()
	stillDisconnected := !player.Connected
	code, gameID := room.Code, room.GameID
	room.RUnlock()
	if !stillDisconnected {
		return // reconnected inside the grace window
	}

	_, removed := c.rooms.RemovePlayer(player.ConnectionID)
	if removed == nil {
		return
	}
	c.sessions.DeleteByPlayer(removed.PlayerID)
	if p := c.plugins.Get(gameID); p != nil {
		p.OnPlayerLeave(room, removed)
	}

	c.hubOps.SendToRoom(code, "player:left", playerLeftPayload{PlayerID: removed.PlayerID})
}

// HandleFrame satisfies hub.Dispatcher.
func (c *Coordinator) HandleFrame(ctx context.Context, conn *hub.Connection, event string, payload []byte) {
	raw := json.RawMessage(payload)

	switch event {
	case "room:create":
		c.handleRoomCreate(ctx, conn, raw)
	case "room:join":
		c.handleRoomJoin(ctx, conn, raw)
	case "room:leave":
		c.handleRoomLeave(conn)
	case "chat:message":
		c.handleChatMessage(ctx, conn, raw)
	case "mobile-heartbeat":
		c.handleHeartbeat(conn)
	case "game:sync-state":
		c.handleSyncState(conn, raw)
	case "platform:return":
		c.handlePlatformReturn(ctx, conn, raw)
	default:
		if strings.HasPrefix(event, "webrtc:") {
			c.handleWebRTCRelay(conn, event, raw)
			return
		}
		c.handlePluginEvent(ctx, conn, event, raw)
	}
}

func (c *Coordinator) handleRoomCreate(ctx context.Context, conn *hub.Connection, payload json.RawMessage) {
	var frame roomCreateFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.hubOps.SendError(conn.ConnectionID(), "malformed room:create payload", apperr.CodeInvalidName)
		return
	}

	name, err := validator.ValidatePlayerName(frame.PlayerName)
	if err != nil {
		c.hubOps.SendError(conn.ConnectionID(), err.Error(), apperr.CodeInvalidName)
		return
	}

	gamePlugin := c.plugins.Get(frame.GameID)
	if gamePlugin == nil {
		c.hubOps.SendError(conn.ConnectionID(), "unknown game", apperr.CodeUnknownGame)
		return
	}

	isPlatformRoom := frame.IsPlatformRoom
	if frame.PlatformToken != "" && c.auth != nil {
		if _, err := c.auth.ValidateToken(frame.PlatformToken); err != nil {
			c.hubOps.SendError(conn.ConnectionID(), "invalid platform token", apperr.CodeSessionInvalid)
			return
		}
		isPlatformRoom = true
	}

	settings := roomregistry.Settings{MinPlayers: 1, MaxPlayers: 8}
	if frame.Settings != nil {
		settings.MinPlayers = frame.Settings.MinPlayers
		settings.MaxPlayers = frame.Settings.MaxPlayers
		settings.Data = frame.Settings.Data
	}

	player := &roomregistry.Player{
		PlayerID:     uuid.NewString(),
		ConnectionID: conn.ConnectionID(),
		Name:         name,
		Connected:    true,
		JoinedAt:     time.Now(),
		LastActivity: time.Now(),
	}

	room, err := c.rooms.CreateRoom(frame.GameID, player, settings, frame.RoomCode)
	if err != nil {
		c.sendAppErr(conn.ConnectionID(), err)
		return
	}

	room.Lock()
	room.IsPlatformRoom = isPlatformRoom
	room.PlatformMetadata = frame.PlatformData
	room.Unlock()

	token, err := c.sessions.Create(player.PlayerID, room.Code)
	if err != nil {
		logging.Error(ctx, "session create failed", zap.Error(err))
	}

	gamePlugin.OnRoomCreate(room)
	gamePlugin.OnPlayerJoin(room, player, false)
	c.hubOps.JoinGroup(room.Code, conn)

	view, err := gamePlugin.SerializeRoom(room, conn.ConnectionID())
	if err != nil {
		logging.Error(ctx, "serialize room failed on create", zap.Error(err))
	}
	c.hubOps.SendToConnection(conn.ConnectionID(), "room:created", roomCreatedPayload{Room: view, SessionToken: token})
}

func (c *Coordinator) handleRoomJoin(ctx context.Context, conn *hub.Connection, payload json.RawMessage) {
	var frame roomJoinFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.hubOps.SendError(conn.ConnectionID(), "malformed room:join payload", apperr.CodeInvalidCode)
		return
	}

	code, err := validator.ValidateRoomCode(frame.RoomCode)
	if err != nil {
		c.hubOps.SendError(conn.ConnectionID(), err.Error(), apperr.CodeInvalidCode)
		return
	}
	name, err := validator.ValidatePlayerName(frame.PlayerName)
	if err != nil {
		c.hubOps.SendError(conn.ConnectionID(), err.Error(), apperr.CodeInvalidName)
		return
	}

	if frame.SessionToken != "" {
		if sess := c.sessions.Validate(frame.SessionToken); sess != nil && sess.RoomCode == code {
			room, player := c.rooms.ReconnectByPlayerID(code, sess.PlayerID, conn.ConnectionID())
			if room != nil && player != nil {
				c.cancelGrace(player.PlayerID)
				if p := c.plugins.Get(room.GameID); p != nil {
					p.OnPlayerJoin(room, player, true)
				}
				c.completeJoin(ctx, room, player, conn, frame.SessionToken, true)
				return
			}
		}
	}

	room := c.rooms.GetByCode(code)
	if room == nil {
		c.hubOps.SendError(conn.ConnectionID(), "room not found", apperr.CodeRoomNotFound)
		return
	}
	gamePlugin := c.plugins.Get(room.GameID)
	if gamePlugin == nil {
		c.hubOps.SendError(conn.ConnectionID(), "unknown game", apperr.CodeUnknownGame)
		return
	}

	player := &roomregistry.Player{
		PlayerID:     uuid.NewString(),
		ConnectionID: conn.ConnectionID(),
		Name:         name,
		Connected:    true,
		JoinedAt:     time.Now(),
		LastActivity: time.Now(),
	}

	joinedRoom, err := c.rooms.AddPlayer(code, player)
	if err != nil {
		c.sendAppErr(conn.ConnectionID(), err)
		return
	}

	token, err := c.sessions.Create(player.PlayerID, code)
	if err != nil {
		logging.Error(ctx, "session create failed", zap.Error(err))
	}

	gamePlugin.OnPlayerJoin(joinedRoom, player, false)
	c.completeJoin(ctx, joinedRoom, player, conn, token, false)
}

func (c *Coordinator) completeJoin(ctx context.Context, room *roomregistry.Room, player *roomregistry.Player, conn *hub.Connection, token string, reconnecting bool) {
	c.hubOps.JoinGroup(room.Code, conn)

	gamePlugin := c.plugins.Get(room.GameID)
	var view any
	if gamePlugin != nil {
		var err error
		view, err = gamePlugin.SerializeRoom(room, conn.ConnectionID())
		if err != nil {
			logging.Error(ctx, "serialize room failed on join", zap.Error(err))
		}
	}
	c.hubOps.SendToConnection(conn.ConnectionID(), "room:joined", roomJoinedPayload{Room: view, SessionToken: token, PlayerID: player.PlayerID})

	if reconnecting {
		c.broadcastPerspective(room, "state:update")
		return
	}
	c.broadcastPerspective(room, "player:joined")
}

// broadcastPerspective calls the owning plugin's SerializeRoom once per
// recipient connection, so each client's view references its own
// connection identifier rather than sharing a single serialized payload.
func (c *Coordinator) broadcastPerspective(room *roomregistry.Room, event string) {
	gamePlugin := c.plugins.Get(room.GameID)
	if gamePlugin == nil {
		return
	}

	room.RLock()
	connIDs := make([]string, 0, len(room.Players))
	for id := range room.Players {
		connIDs = append(connIDs, id)
	}
	room.RUnlock()

	for _, connID := range connIDs {
		view, err := gamePlugin.SerializeRoom(room, connID)
		if err != nil {
			continue
		}
		c.hubOps.SendToConnection(connID, event, view)
	}
}

func (c *Coordinator) handleRoomLeave(conn *hub.Connection) {
	connID := conn.ConnectionID()
	room, player := c.rooms.GetByConnection(connID)
	if room == nil || player == nil {
		return
	}

	room.RLock()
	code, gameID := room.Code, room.GameID
	room.RUnlock()

	c.cancelGrace(player.PlayerID)
	_, removed := c.rooms.RemovePlayer(connID)
	if removed == nil {
		return
	}
	c.sessions.DeleteByPlayer(removed.PlayerID)
	if p := c.plugins.Get(gameID); p != nil {
		p.OnPlayerLeave(room, removed)
	}

	c.hubOps.LeaveGroup(code, connID)
	c.hubOps.SendToRoom(code, "player:left", playerLeftPayload{PlayerID: removed.PlayerID})
}

func (c *Coordinator) handleChatMessage(ctx context.Context, conn *hub.Connection, payload json.RawMessage) {
	var frame chatMessageFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}

	room, player := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil || player == nil {
		c.hubOps.SendError(conn.ConnectionID(), "not in a room", apperr.CodeNotInRoom)
		return
	}

	if c.limiter != nil && !c.limiter.CheckChatMessage(ctx, player.PlayerID) {
		c.hubOps.SendError(conn.ConnectionID(), "too many chat messages", apperr.CodeInternal)
		return
	}

	text, err := validator.ValidateChatMessage(frame.Message)
	if err != nil {
		c.hubOps.SendError(conn.ConnectionID(), err.Error(), apperr.CodeInvalidMessage)
		return
	}

	msg := roomregistry.ChatMessage{PlayerID: player.PlayerID, Name: player.Name, Text: text, Timestamp: time.Now()}
	room.Lock()
	room.AppendChatMessage(msg)
	code := room.Code
	room.Unlock()

	c.hubOps.SendToRoom(code, "chat:message", chatBroadcastPayload{
		PlayerID:  msg.PlayerID,
		Name:      msg.Name,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (c *Coordinator) handleHeartbeat(conn *hub.Connection) {
	room, player := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil || player == nil {
		return
	}
	room.Lock()
	player.LastActivity = time.Now()
	room.LastActivity = time.Now()
	room.Unlock()
}

func (c *Coordinator) handleSyncState(conn *hub.Connection, payload json.RawMessage) {
	var frame syncStateFrame
	_ = json.Unmarshal(payload, &frame)

	room, _ := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil && frame.RoomCode != "" {
		room = c.rooms.GetByCode(frame.RoomCode)
	}
	if room == nil {
		c.hubOps.SendError(conn.ConnectionID(), "not in a room", apperr.CodeNotInRoom)
		return
	}

	gamePlugin := c.plugins.Get(room.GameID)
	if gamePlugin == nil {
		return
	}
	view, err := gamePlugin.SerializeRoom(room, conn.ConnectionID())
	if err != nil {
		return
	}
	c.hubOps.SendToConnection(conn.ConnectionID(), "state:update", view)
}

func (c *Coordinator) handlePlatformReturn(ctx context.Context, conn *hub.Connection, payload json.RawMessage) {
	var frame platformReturnFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}

	room, player := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil || player == nil {
		c.hubOps.SendError(conn.ConnectionID(), "not in a room", apperr.CodeNotInRoom)
		return
	}

	room.RLock()
	code, gameID := room.Code, room.GameID
	room.RUnlock()

	req := platform.ReturnToLobbyRequest{InitiatedBy: player.PlayerID, Reason: frame.Reason}
	if frame.Mode == "group" {
		req.ReturnAll = true
	} else {
		req.PlayerID = player.PlayerID
	}

	result := c.platform.RequestReturnToLobby(ctx, gameID, code, req)
	out := platformReturnRedirectPayload{
		Ok:              result.Ok,
		ReturnURL:       result.ReturnURL,
		SessionToken:    result.SessionToken,
		PlayersReturned: result.PlayersReturned,
		APIError:        result.APIError,
	}

	if frame.Mode == "group" {
		c.hubOps.SendToRoom(code, "platform:return-redirect", out)
		return
	}
	c.hubOps.SendToConnection(conn.ConnectionID(), "platform:return-redirect", out)
}

func (c *Coordinator) handleWebRTCRelay(conn *hub.Connection, event string, payload json.RawMessage) {
	room, _ := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil {
		return // relay targeting a vanished room is dropped silently
	}

	var target struct {
		TargetConnectionID string `json:"targetConnectionId,omitempty"`
	}
	_ = json.Unmarshal(payload, &target)

	if target.TargetConnectionID != "" {
		c.hubOps.SendToConnection(target.TargetConnectionID, event, payload)
		return
	}

	room.RLock()
	code := room.Code
	room.RUnlock()
	c.hubOps.SendToRoomImmediate(code, event, payload)
}

func (c *Coordinator) handlePluginEvent(ctx context.Context, conn *hub.Connection, event string, payload json.RawMessage) {
	room, _ := c.rooms.GetByConnection(conn.ConnectionID())
	if room == nil {
		var fb fallbackRoomCodeFrame
		_ = json.Unmarshal(payload, &fb)
		if fb.RoomCode != "" {
			room = c.rooms.GetByCode(fb.RoomCode)
		}
	}
	if room == nil {
		c.hubOps.SendError(conn.ConnectionID(), "Not in a room", apperr.CodeNotInRoom)
		return
	}

	room.RLock()
	gameID := room.GameID
	room.RUnlock()

	gamePlugin := c.plugins.Get(gameID)
	if gamePlugin == nil {
		c.hubOps.SendError(conn.ConnectionID(), "unknown game", apperr.CodeUnknownGame)
		return
	}
	handler, ok := gamePlugin.Handlers()[event]
	if !ok {
		c.hubOps.SendError(conn.ConnectionID(), "unknown event", apperr.CodeUnknownEvent)
		return
	}

	if event == "turn" && c.limiter != nil {
		if player := c.rooms.GetPlayer(room, conn.ConnectionID()); player != nil && !c.limiter.CheckTurn(ctx, player.PlayerID) {
			c.hubOps.SendError(conn.ConnectionID(), "too many turns", apperr.CodeInternal)
			return
		}
	}

	if err := handler(ctx, conn, payload, room, c.hubOps); err != nil {
		logging.Error(ctx, "plugin handler error", zap.String("event", event), zap.Error(err))
		c.hubOps.SendError(conn.ConnectionID(), "internal error", apperr.CodeInternal)
	}
}

func (c *Coordinator) sendAppErr(connID string, err error) {
	if ae, ok := apperr.As(err); ok {
		c.hubOps.SendError(connID, ae.Message, ae.Code)
		return
	}
	c.hubOps.SendError(connID, err.Error(), apperr.CodeInternal)
}
