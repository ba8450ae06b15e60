package roomregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPlayer(connID string) *Player {
	now := time.Now()
	return &Player{
		PlayerID:     "p-" + connID,
		ConnectionID: connID,
		Name:         "tester",
		Connected:    true,
		JoinedAt:     now,
		LastActivity: now,
	}
}

func TestCreateRoomRegistersHost(t *testing.T) {
	reg := New()
	defer reg.Stop()

	host := newTestPlayer("conn-1")
	room, err := reg.CreateRoom("lightcycles", host, Settings{MinPlayers: 1, MaxPlayers: 4}, "")
	require.NoError(t, err)
	require.True(t, host.IsHost)
	require.Equal(t, host.PlayerID, room.HostPlayerID)
	require.Len(t, room.Players, 1)
}

func TestAddPlayerRejectsWhenFull(t *testing.T) {
	reg := New()
	defer reg.Stop()

	host := newTestPlayer("conn-1")
	room, err := reg.CreateRoom("lightcycles", host, Settings{MinPlayers: 1, MaxPlayers: 1}, "")
	require.NoError(t, err)

	_, err = reg.AddPlayer(room.Code, newTestPlayer("conn-2"))
	require.Error(t, err)
}

func TestAddPlayerRejectsWhenRunning(t *testing.T) {
	reg := New()
	defer reg.Stop()

	host := newTestPlayer("conn-1")
	room, err := reg.CreateRoom("lightcycles", host, Settings{MinPlayers: 1, MaxPlayers: 4}, "")
	require.NoError(t, err)

	room.Lock()
	room.GameState.Phase = PhaseRunning
	room.Unlock()

	_, err = reg.AddPlayer(room.Code, newTestPlayer("conn-2"))
	require.Error(t, err)
}

func TestRemovePlayerTransfersHostAndDestroysWhenEmpty(t *testing.T) {
	reg := New()
	defer reg.Stop()

	host := newTestPlayer("conn-1")
	room, err := reg.CreateRoom("lightcycles", host, Settings{MinPlayers: 1, MaxPlayers: 4}, "")
	require.NoError(t, err)

	guest := newTestPlayer("conn-2")
	_, err = reg.AddPlayer(room.Code, guest)
	require.NoError(t, err)

	gotRoom, gotPlayer := reg.RemovePlayer("conn-1")
	require.NotNil(t, gotRoom)
	require.Equal(t, host.PlayerID, gotPlayer.PlayerID)
	require.True(t, guest.IsHost)
	require.Equal(t, guest.PlayerID, room.HostPlayerID)

	reg.RemovePlayer("conn-2")
	require.Nil(t, reg.GetByCode(room.Code))
}

func TestReconnectRebindsConnectionID(t *testing.T) {
	reg := New()
	defer reg.Stop()

	host := newTestPlayer("conn-1")
	room, err := reg.CreateRoom("lightcycles", host, Settings{MinPlayers: 1, MaxPlayers: 4}, "")
	require.NoError(t, err)

	reg.MarkDisconnected("conn-1")

	gotRoom, gotPlayer := reg.Reconnect("conn-1", "conn-1-new")
	require.NotNil(t, gotRoom)
	require.Equal(t, "conn-1-new", gotPlayer.ConnectionID)
	require.True(t, gotPlayer.Connected)
	require.Nil(t, gotPlayer.DisconnectedAt)
	require.Equal(t, "conn-1-new", room.HostConnectionID)

	_, player := reg.GetByConnection("conn-1-new")
	require.NotNil(t, player)
}

func TestCreateRoomRejectsDuplicateCodeOverride(t *testing.T) {
	reg := New()
	defer reg.Stop()

	_, err := reg.CreateRoom("lightcycles", newTestPlayer("conn-1"), Settings{MinPlayers: 1, MaxPlayers: 4}, "ABCDEF")
	require.NoError(t, err)

	_, err = reg.CreateRoom("lightcycles", newTestPlayer("conn-2"), Settings{MinPlayers: 1, MaxPlayers: 4}, "ABCDEF")
	require.Error(t, err)
}

func TestAppendChatMessageEvictsOldest(t *testing.T) {
	room := newRoom("ABCDEF", "lightcycles", Settings{MaxPlayers: 4})
	for i := 0; i < MaxChatHistory+10; i++ {
		room.AppendChatMessage(ChatMessage{Text: "msg"})
	}
	require.Len(t, room.Messages, MaxChatHistory)
}
