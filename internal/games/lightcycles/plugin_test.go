package lightcycles

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id string }

func (c fakeConn) ConnectionID() string { return c.id }

func newTestRoom(t *testing.T) (*roomregistry.Registry, *roomregistry.Room, *roomregistry.Player) {
	t.Helper()
	reg := roomregistry.New()
	t.Cleanup(reg.Stop)

	host := &roomregistry.Player{
		PlayerID: "host-1", ConnectionID: "conn-host", Name: "Host",
		IsHost: true, Connected: true, JoinedAt: time.Now(), LastActivity: time.Now(),
	}
	room, err := reg.CreateRoom(GameID, host, roomregistry.Settings{MinPlayers: 1, MaxPlayers: 4}, "")
	require.NoError(t, err)
	return reg, room, host
}

func TestOnRoomCreateFillsDefaultSettingsAndCreatesEngine(t *testing.T) {
	p := New()
	_, room, _ := newTestRoom(t)

	p.OnRoomCreate(room)

	require.NotNil(t, p.engineFor(room.Code))

	var cfg Config
	room.RLock()
	data := room.Settings.Data
	room.RUnlock()
	require.NoError(t, json.Unmarshal(data, &cfg))
	require.Equal(t, DefaultConfig().ArenaSize, cfg.ArenaSize)
}

func TestHandleGameStartRejectsNonHost(t *testing.T) {
	p := New()
	_, room, _ := newTestRoom(t)
	p.OnRoomCreate(room)

	errs := &recordingHelpers{}
	err := p.handleGameStart(context.Background(), fakeConn{id: "not-host"}, json.RawMessage(`{}`), room, errs)
	require.NoError(t, err)
	require.Len(t, errs.errors, 1)
	require.Equal(t, "NOT_HOST", errs.errors[0].code)

	require.Equal(t, PhaseLobby, p.engineFor(room.Code).Phase())
}

func TestHandleGameStartByHostBeginsCountdown(t *testing.T) {
	p := New()
	require.NoError(t, p.OnInitialize(&recordingHelpers{}))
	_, room, host := newTestRoom(t)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	helpers := &recordingHelpers{}
	err := p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers)
	require.NoError(t, err)

	e := p.engineFor(room.Code)
	require.NotNil(t, e)
	t.Cleanup(e.Stop)
	require.Eventually(t, func() bool { return e.Phase() == PhaseCountdown }, time.Second, time.Millisecond)
}

func TestHandleTurnDropsMalformedPayload(t *testing.T) {
	p := New()
	_, room, host := newTestRoom(t)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	err := p.handleTurn(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`not-json`), room, &recordingHelpers{})
	require.NoError(t, err)
}

func TestSerializeRoomIncludesViewerPlayerID(t *testing.T) {
	p := New()
	_, room, host := newTestRoom(t)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	view, err := p.SerializeRoom(room, host.ConnectionID)
	require.NoError(t, err)

	rv, ok := view.(roomView)
	require.True(t, ok)
	require.Equal(t, host.PlayerID, rv.YourPlayerID)
}

type recordingHelpers struct {
	errors []struct {
		connectionID, message, code string
	}
}

func (h *recordingHelpers) SendToRoom(roomCode, event string, payload any)           {}
func (h *recordingHelpers) SendToRoomImmediate(roomCode, event string, payload any)  {}
func (h *recordingHelpers) SendToConnection(connectionID, event string, payload any) {}
func (h *recordingHelpers) SendError(connectionID, message, code string) {
	h.errors = append(h.errors, struct{ connectionID, message, code string }{connectionID, message, code})
}
