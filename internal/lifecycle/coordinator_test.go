package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ennuiii/gamebuddies-server/internal/hub"
	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
	"github.com/ennuiii/gamebuddies-server/internal/sessionstore"
)

// sentMessage records one outbound call observed by fakeHubOps. For
// SendToRoom/SendToRoomImmediate, connID carries "room:"+roomCode so
// room-wide and per-connection sends can be told apart by the same slice.
type sentMessage struct {
	connID  string
	event   string
	payload any
}

type fakeHubOps struct {
	mu        sync.Mutex
	sent      []sentMessage
	groups    map[string][]string
	destroyed []string
}

func newFakeHubOps() *fakeHubOps {
	return &fakeHubOps{groups: make(map[string][]string)}
}

func (f *fakeHubOps) SendToRoom(roomCode, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{connID: "room:" + roomCode, event: event, payload: payload})
}

func (f *fakeHubOps) SendToRoomImmediate(roomCode, event string, payload any) {
	f.SendToRoom(roomCode, event, payload)
}

func (f *fakeHubOps) SendToConnection(connectionID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{connID: connectionID, event: event, payload: payload})
}

func (f *fakeHubOps) SendError(connectionID, message, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{connID: connectionID, event: "error", payload: code})
}

func (f *fakeHubOps) JoinGroup(roomCode string, conn *hub.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[roomCode] = append(f.groups[roomCode], conn.ConnectionID())
}

func (f *fakeHubOps) LeaveGroup(roomCode, connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.groups[roomCode]
	for i, id := range members {
		if id == connectionID {
			f.groups[roomCode] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

func (f *fakeHubOps) DestroyGroup(roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, roomCode)
	delete(f.groups, roomCode)
}

// eventsFor returns every event name sent to connID, in send order.
func (f *fakeHubOps) eventsFor(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.connID == connID {
			out = append(out, m.event)
		}
	}
	return out
}

// payloadFor returns the most recent payload sent to connID under event, or
// nil if none was sent.
func (f *fakeHubOps) payloadFor(connID, event string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].connID == connID && f.sent[i].event == event {
			return f.sent[i].payload
		}
	}
	return nil
}

// perspectiveView is what fakeGamePlugin.SerializeRoom returns, so tests can
// assert that each recipient received a view stamped with its own
// connection id rather than one shared payload.
type perspectiveView struct {
	ConnID string
	Phase  roomregistry.Phase
}

// fakeGamePlugin records every lifecycle hook invocation it receives, for
// assertions about when the coordinator calls into the owning plugin.
type fakeGamePlugin struct {
	plugin.BaseLifecycle

	mu           sync.Mutex
	joined       []string
	reconnected  []string
	disconnected []string
	left         []string
	hostLeft     int
}

func (p *fakeGamePlugin) ID() string                          { return "testgame" }
func (p *fakeGamePlugin) Namespace() string                   { return "testgame" }
func (p *fakeGamePlugin) DefaultSettings() json.RawMessage    { return nil }
func (p *fakeGamePlugin) Handlers() map[string]plugin.Handler { return nil }

func (p *fakeGamePlugin) SerializeRoom(room *roomregistry.Room, perspectiveConnectionID string) (any, error) {
	room.RLock()
	phase := room.GameState.Phase
	room.RUnlock()
	return perspectiveView{ConnID: perspectiveConnectionID, Phase: phase}, nil
}

func (p *fakeGamePlugin) OnPlayerJoin(room *roomregistry.Room, player *roomregistry.Player, reconnecting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, player.PlayerID)
	if reconnecting {
		p.reconnected = append(p.reconnected, player.PlayerID)
	}
}

func (p *fakeGamePlugin) OnPlayerDisconnected(room *roomregistry.Room, player *roomregistry.Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, player.PlayerID)
}

func (p *fakeGamePlugin) OnPlayerLeave(room *roomregistry.Room, player *roomregistry.Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, player.PlayerID)
}

func (p *fakeGamePlugin) OnHostLeave(room *roomregistry.Room) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hostLeft++
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeHubOps, *fakeGamePlugin, *roomregistry.Registry, *sessionstore.Store) {
	t.Helper()

	rooms := roomregistry.New()
	t.Cleanup(rooms.Stop)
	sessions := sessionstore.New()
	t.Cleanup(sessions.Stop)
	plugins := plugin.NewRegistry()
	hubOps := newFakeHubOps()
	gp := &fakeGamePlugin{}
	require.NoError(t, plugins.Register(gp, hubOps))

	coord := NewCoordinator(rooms, sessions, plugins, hubOps, nil, nil, nil)
	return coord, hubOps, gp, rooms, sessions
}

func createRoom(t *testing.T, coord *Coordinator, rooms *roomregistry.Registry, hostConnID string) (string, *roomregistry.Player) {
	t.Helper()
	hostConn := hub.NewTestConnection(hostConnID)
	coord.HandleFrame(context.Background(), hostConn, "room:create",
		[]byte(`{"gameId":"testgame","playerName":"Host"}`))
	room, host := rooms.GetByConnection(hostConnID)
	require.NotNil(t, room)
	require.NotNil(t, host)
	return room.Code, host
}

func TestRoomJoinAddsSecondPlayerToExistingRoom(t *testing.T) {
	coord, hubOps, gp, rooms, _ := newTestCoordinator(t)

	code, host := createRoom(t, coord, rooms, "host-conn")
	require.Equal(t, 1, rooms.RoomCount())
	require.Contains(t, hubOps.eventsFor("host-conn"), "room:created")

	guestConn := hub.NewTestConnection("guest-conn")
	coord.HandleFrame(context.Background(), guestConn, "room:join",
		[]byte(`{"roomCode":"`+code+`","playerName":"Guest"}`))

	room, guest := rooms.GetByConnection("guest-conn")
	require.NotNil(t, guest)
	require.Equal(t, "Guest", guest.Name)
	require.Len(t, room.Players, 2)
	require.Contains(t, hubOps.eventsFor("guest-conn"), "room:joined")
	require.Contains(t, gp.joined, guest.PlayerID)
	require.Contains(t, gp.joined, host.PlayerID)
}

func TestJoinBroadcastsPerPerspectiveViewToEveryMember(t *testing.T) {
	coord, hubOps, _, rooms, _ := newTestCoordinator(t)

	code, _ := createRoom(t, coord, rooms, "host-conn")

	guestConn := hub.NewTestConnection("guest-conn")
	coord.HandleFrame(context.Background(), guestConn, "room:join",
		[]byte(`{"roomCode":"`+code+`","playerName":"Guest"}`))

	hostView, ok := hubOps.payloadFor("host-conn", "player:joined").(perspectiveView)
	require.True(t, ok)
	require.Equal(t, "host-conn", hostView.ConnID)

	guestView, ok := hubOps.payloadFor("guest-conn", "player:joined").(perspectiveView)
	require.True(t, ok)
	require.Equal(t, "guest-conn", guestView.ConnID)
}

func TestReconnectWithinGraceRestoresPlayerWithoutRemoval(t *testing.T) {
	coord, hubOps, gp, rooms, _ := newTestCoordinator(t)

	code, _ := createRoom(t, coord, rooms, "host-conn")

	guestConn := hub.NewTestConnection("guest-conn")
	coord.HandleFrame(context.Background(), guestConn, "room:join",
		[]byte(`{"roomCode":"`+code+`","playerName":"Guest"}`))
	_, guest := rooms.GetByConnection("guest-conn")
	guestToken := hubOps.payloadFor("guest-conn", "room:joined").(roomJoinedPayload).SessionToken
	require.NotEmpty(t, guestToken)

	coord.HandleDisconnect(guestConn)
	_, stillHeld := rooms.GetByConnection("guest-conn")
	require.NotNil(t, stillHeld)
	require.False(t, stillHeld.Connected)
	require.Contains(t, gp.disconnected, guest.PlayerID)

	reconnectConn := hub.NewTestConnection("guest-conn-2")
	coord.HandleFrame(context.Background(), reconnectConn, "room:join",
		[]byte(`{"roomCode":"`+code+`","playerName":"Guest","sessionToken":"`+guestToken+`"}`))

	room, reconnected := rooms.GetByConnection("guest-conn-2")
	require.NotNil(t, reconnected)
	require.True(t, reconnected.Connected)
	require.Equal(t, guest.PlayerID, reconnected.PlayerID)
	require.Len(t, room.Players, 2)
	require.Contains(t, gp.reconnected, guest.PlayerID)

	hostView, ok := hubOps.payloadFor("host-conn", "state:update").(perspectiveView)
	require.True(t, ok)
	require.Equal(t, "host-conn", hostView.ConnID)
	reconnView, ok := hubOps.payloadFor("guest-conn-2", "state:update").(perspectiveView)
	require.True(t, ok)
	require.Equal(t, "guest-conn-2", reconnView.ConnID)
}

func TestHostDisconnectDestroysRoomImmediately(t *testing.T) {
	coord, hubOps, gp, rooms, sessions := newTestCoordinator(t)

	code, _ := createRoom(t, coord, rooms, "host-conn")
	hostToken := hubOps.payloadFor("host-conn", "room:created").(roomCreatedPayload).SessionToken
	require.NotNil(t, sessions.Validate(hostToken))

	hostConn := hub.NewTestConnection("host-conn")
	coord.HandleDisconnect(hostConn)

	require.Nil(t, rooms.GetByCode(code))
	require.Nil(t, sessions.Validate(hostToken))
	require.Equal(t, 1, gp.hostLeft)
	require.Contains(t, hubOps.destroyed, code)
	require.Contains(t, hubOps.eventsFor("room:"+code), "host:disconnected")
}

func TestGraceExpiryRemovesPlayerAndInvalidatesSession(t *testing.T) {
	coord, hubOps, gp, rooms, sessions := newTestCoordinator(t)

	code, _ := createRoom(t, coord, rooms, "host-conn")

	guestConn := hub.NewTestConnection("guest-conn")
	coord.HandleFrame(context.Background(), guestConn, "room:join",
		[]byte(`{"roomCode":"`+code+`","playerName":"Guest"}`))
	room, guest := rooms.GetByConnection("guest-conn")
	guestToken := hubOps.payloadFor("guest-conn", "room:joined").(roomJoinedPayload).SessionToken
	require.NotNil(t, sessions.Validate(guestToken))

	coord.HandleDisconnect(guestConn)

	// Simulate the grace timer firing without waiting out disconnectGrace.
	coord.finalizeGraceExpiry(room, guest)

	_, gone := rooms.GetByConnection("guest-conn")
	require.Nil(t, gone)
	require.Nil(t, sessions.Validate(guestToken))
	require.Contains(t, gp.left, guest.PlayerID)
	require.Contains(t, hubOps.eventsFor("room:"+code), "player:left")
}
