package trivia

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
)

// GameID is this plugin's stable id and routing namespace.
const GameID = "trivia"

// Plugin holds no per-room state of its own. Every field a handler needs
// lives in Room.Settings.Data or Room.GameState.Data, read and
// rewritten on every call.
type Plugin struct {
	plugin.BaseLifecycle
}

// New constructs an unregistered Plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) ID() string        { return GameID }
func (p *Plugin) Namespace() string { return GameID }

func (p *Plugin) DefaultSettings() json.RawMessage {
	data, _ := json.Marshal(Settings{Questions: defaultQuestions(), SecondsPerRound: 20})
	return data
}

func (p *Plugin) OnRoomCreate(room *roomregistry.Room) {
	room.Lock()
	defer room.Unlock()
	if len(room.Settings.Data) == 0 {
		room.Settings.Data, _ = json.Marshal(Settings{Questions: defaultQuestions(), SecondsPerRound: 20})
	}
	state := State{Round: -1, Answers: map[string]int{}, Scores: map[string]int{}}
	room.GameState.Data, _ = json.Marshal(state)
}

func (p *Plugin) OnPlayerJoin(room *roomregistry.Room, player *roomregistry.Player, reconnecting bool) {
	if reconnecting {
		return
	}
	room.Lock()
	defer room.Unlock()
	state, err := p.loadStateLocked(room)
	if err != nil {
		return
	}
	if _, ok := state.Scores[player.PlayerID]; !ok {
		state.Scores[player.PlayerID] = 0
		room.GameState.Data, _ = json.Marshal(state)
	}
}

func (p *Plugin) SerializeRoom(room *roomregistry.Room, perspectiveConnectionID string) (any, error) {
	room.RLock()
	defer room.RUnlock()

	settings, err := p.loadSettings(room)
	if err != nil {
		return nil, err
	}
	state, err := p.loadState(room)
	if err != nil {
		return nil, err
	}

	view := roomView{Round: state.Round, Scores: state.Scores, TotalQuestions: len(settings.Questions)}
	if state.Round >= 0 && state.Round < len(settings.Questions) {
		q := settings.Questions[state.Round]
		view.Prompt = q.Prompt
		view.Options = q.Options
	}
	return view, nil
}

type roomView struct {
	Round          int            `json:"round"`
	TotalQuestions int            `json:"totalQuestions"`
	Prompt         string         `json:"prompt,omitempty"`
	Options        []string       `json:"options,omitempty"`
	Scores         map[string]int `json:"scores"`
}

func (p *Plugin) Handlers() map[string]plugin.Handler {
	return map[string]plugin.Handler{
		"game:start":    p.handleGameStart,
		"answer:submit": p.handleAnswerSubmit,
	}
}

func (p *Plugin) handleGameStart(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	if !p.isHost(room, conn) {
		helpers.SendError(conn.ConnectionID(), "only the host can start the game", "NOT_HOST")
		return nil
	}

	room.Lock()
	state, err := p.loadStateLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}
	if state.Round >= 0 {
		room.Unlock()
		helpers.SendError(conn.ConnectionID(), "game already started", "WRONG_PHASE")
		return nil
	}
	settings, err := p.loadSettingsLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}
	state.Round = 0
	state.Answers = map[string]int{}
	room.GameState.Data, _ = json.Marshal(state)
	room.GameState.Phase = roomregistry.PhaseRunning
	code := room.Code
	room.Unlock()

	helpers.SendToRoom(code, "trivia:question", questionPayloadFor(settings, 0))
	return nil
}

func (p *Plugin) handleAnswerSubmit(ctx context.Context, conn plugin.Connection, payload json.RawMessage, room *roomregistry.Room, helpers plugin.Helpers) error {
	var frame answerFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil
	}

	playerID, ok := p.resolvePlayer(room, conn)
	if !ok {
		return nil
	}

	room.Lock()
	state, err := p.loadStateLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}
	settings, err := p.loadSettingsLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}
	if state.Round < 0 || state.Round >= len(settings.Questions) {
		room.Unlock()
		return nil
	}
	if _, already := state.Answers[playerID]; already {
		room.Unlock()
		return nil
	}
	state.Answers[playerID] = frame.OptionIndex
	connectedPlayers := room.PlayerCount()
	allAnswered := len(state.Answers) >= connectedPlayers
	room.GameState.Data, _ = json.Marshal(state)
	code := room.Code
	room.Unlock()

	if !allAnswered {
		return nil
	}
	return p.revealAndAdvance(code, room, helpers)
}

// revealAndAdvance scores the just-finished round, reveals it, then either
// advances to the next question or closes out the game.
func (p *Plugin) revealAndAdvance(code string, room *roomregistry.Room, helpers plugin.Helpers) error {
	room.Lock()
	state, err := p.loadStateLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}
	settings, err := p.loadSettingsLocked(room)
	if err != nil {
		room.Unlock()
		return err
	}

	question := settings.Questions[state.Round]
	for playerID, choice := range state.Answers {
		if choice == question.CorrectIdx {
			state.Scores[playerID]++
		}
	}

	reveal := revealPayload{Round: state.Round, CorrectIdx: question.CorrectIdx, Scores: copyScores(state.Scores)}

	nextRound := state.Round + 1
	finished := nextRound >= len(settings.Questions)
	if finished {
		state.Round = -1
		room.GameState.Phase = roomregistry.PhaseLobby
	} else {
		state.Round = nextRound
		state.Answers = map[string]int{}
	}
	room.GameState.Data, _ = json.Marshal(state)
	room.Unlock()

	helpers.SendToRoom(code, "trivia:reveal", reveal)
	if finished {
		helpers.SendToRoom(code, "trivia:final", finalPayload{Scores: reveal.Scores})
		return nil
	}
	helpers.SendToRoom(code, "trivia:question", questionPayloadFor(settings, nextRound))
	return nil
}

func questionPayloadFor(settings Settings, round int) questionPayload {
	q := settings.Questions[round]
	return questionPayload{Round: round, Prompt: q.Prompt, Options: q.Options, Seconds: settings.SecondsPerRound}
}

func copyScores(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (p *Plugin) loadSettings(room *roomregistry.Room) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(room.Settings.Data, &s); err != nil {
		return s, fmt.Errorf("trivia: decode settings: %w", err)
	}
	return s, nil
}

func (p *Plugin) loadSettingsLocked(room *roomregistry.Room) (Settings, error) {
	return p.loadSettings(room)
}

func (p *Plugin) loadState(room *roomregistry.Room) (State, error) {
	var s State
	if len(room.GameState.Data) == 0 {
		return State{Round: -1, Answers: map[string]int{}, Scores: map[string]int{}}, nil
	}
	if err := json.Unmarshal(room.GameState.Data, &s); err != nil {
		return s, fmt.Errorf("trivia: decode state: %w", err)
	}
	if s.Answers == nil {
		s.Answers = map[string]int{}
	}
	if s.Scores == nil {
		s.Scores = map[string]int{}
	}
	return s, nil
}

func (p *Plugin) loadStateLocked(room *roomregistry.Room) (State, error) { return p.loadState(room) }

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
