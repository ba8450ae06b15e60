package trivia

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

type recordingHelpers struct {
	sent []struct {
		roomCode, event string
		payload         any
	}
	errors []struct{ connectionID, message, code string }
}

func (h *recordingHelpers) SendToRoom(roomCode, event string, payload any) {
	h.sent = append(h.sent, struct {
		roomCode, event string
		payload         any
	}{roomCode, event, payload})
}
func (h *recordingHelpers) SendToRoomImmediate(roomCode, event string, payload any) {
	h.SendToRoom(roomCode, event, payload)
}
func (h *recordingHelpers) SendToConnection(connectionID, event string, payload any) {}
func (h *recordingHelpers) SendError(connectionID, message, code string) {
	h.errors = append(h.errors, struct{ connectionID, message, code string }{connectionID, message, code})
}

func (h *recordingHelpers) last(event string) any {
	for i := len(h.sent) - 1; i >= 0; i-- {
		if h.sent[i].event == event {
			return h.sent[i].payload
		}
	}
	return nil
}

func newTestRoom(t *testing.T, maxPlayers int) (*roomregistry.Room, *roomregistry.Player) {
	t.Helper()
	reg := roomregistry.New()
	t.Cleanup(reg.Stop)

	host := &roomregistry.Player{
		PlayerID: "host-1", ConnectionID: "conn-host", Name: "Host",
		IsHost: true, Connected: true, JoinedAt: time.Now(), LastActivity: time.Now(),
	}
	room, err := reg.CreateRoom(GameID, host, roomregistry.Settings{MinPlayers: 1, MaxPlayers: maxPlayers}, "")
	require.NoError(t, err)
	return room, host
}

func TestOnRoomCreateSeedsDefaultQuestionsAndIdleState(t *testing.T) {
	p := New()
	room, _ := newTestRoom(t, 4)
	p.OnRoomCreate(room)

	room.RLock()
	settingsData, stateData := room.Settings.Data, room.GameState.Data
	room.RUnlock()

	var settings Settings
	require.NoError(t, json.Unmarshal(settingsData, &settings))
	require.Len(t, settings.Questions, 3)

	var state State
	require.NoError(t, json.Unmarshal(stateData, &state))
	require.Equal(t, -1, state.Round)
}

func TestHandleGameStartRejectsNonHost(t *testing.T) {
	p := New()
	room, _ := newTestRoom(t, 4)
	p.OnRoomCreate(room)

	helpers := &recordingHelpers{}
	err := p.handleGameStart(context.Background(), fakeConn{id: "not-host"}, json.RawMessage(`{}`), room, helpers)
	require.NoError(t, err)
	require.Len(t, helpers.errors, 1)
	require.Equal(t, "NOT_HOST", helpers.errors[0].code)
}

func TestHandleGameStartByHostBroadcastsFirstQuestion(t *testing.T) {
	p := New()
	room, host := newTestRoom(t, 1)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	helpers := &recordingHelpers{}
	err := p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers)
	require.NoError(t, err)

	q, ok := helpers.last("trivia:question").(questionPayload)
	require.True(t, ok)
	require.Equal(t, 0, q.Round)
}

func TestSingleAnswerRevealAdvancesAndScoresCorrectly(t *testing.T) {
	p := New()
	room, host := newTestRoom(t, 1)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	helpers := &recordingHelpers{}
	require.NoError(t, p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers))

	answer, _ := json.Marshal(answerFrame{OptionIndex: 1}) // correct for question 0
	require.NoError(t, p.handleAnswerSubmit(context.Background(), fakeConn{id: host.ConnectionID}, answer, room, helpers))

	reveal, ok := helpers.last("trivia:reveal").(revealPayload)
	require.True(t, ok)
	require.Equal(t, 0, reveal.Round)
	require.Equal(t, 1, reveal.Scores[host.PlayerID])

	q, ok := helpers.last("trivia:question").(questionPayload)
	require.True(t, ok)
	require.Equal(t, 1, q.Round)
}

func TestFinalQuestionEmitsFinalPayloadInsteadOfNextQuestion(t *testing.T) {
	p := New()
	room, host := newTestRoom(t, 1)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	helpers := &recordingHelpers{}
	require.NoError(t, p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers))

	for i := 0; i < 3; i++ {
		answer, _ := json.Marshal(answerFrame{OptionIndex: 0})
		require.NoError(t, p.handleAnswerSubmit(context.Background(), fakeConn{id: host.ConnectionID}, answer, room, helpers))
	}

	final, ok := helpers.last("trivia:final").(finalPayload)
	require.True(t, ok)
	require.Contains(t, final.Scores, host.PlayerID)
}

func TestAnswerSubmitIgnoresDuplicateFromSamePlayer(t *testing.T) {
	p := New()
	room, host := newTestRoom(t, 2)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	second := &roomregistry.Player{
		PlayerID: "p2", ConnectionID: "conn-2", Name: "Second",
		Connected: true, JoinedAt: time.Now(), LastActivity: time.Now(),
	}
	room.Lock()
	room.Players[second.ConnectionID] = second
	room.Unlock()
	p.OnPlayerJoin(room, second, false)

	helpers := &recordingHelpers{}
	require.NoError(t, p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers))

	answerHelpers := &recordingHelpers{}
	answer, _ := json.Marshal(answerFrame{OptionIndex: 1})
	require.NoError(t, p.handleAnswerSubmit(context.Background(), fakeConn{id: host.ConnectionID}, answer, room, answerHelpers))
	require.NoError(t, p.handleAnswerSubmit(context.Background(), fakeConn{id: host.ConnectionID}, answer, room, answerHelpers))

	require.Empty(t, answerHelpers.sent) // only 1 of 2 players answered, no reveal yet
}

func TestSerializeRoomOmitsCorrectIndexAndReflectsCurrentQuestion(t *testing.T) {
	p := New()
	room, host := newTestRoom(t, 1)
	p.OnRoomCreate(room)
	p.OnPlayerJoin(room, host, false)

	helpers := &recordingHelpers{}
	require.NoError(t, p.handleGameStart(context.Background(), fakeConn{id: host.ConnectionID}, json.RawMessage(`{}`), room, helpers))

	view, err := p.SerializeRoom(room, host.ConnectionID)
	require.NoError(t, err)

	rv, ok := view.(roomView)
	require.True(t, ok)
	require.Equal(t, 0, rv.Round)
	require.NotEmpty(t, rv.Prompt)

	raw, err := json.Marshal(rv)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "correctIdx")
}
