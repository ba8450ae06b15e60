// Package trivia is a minimal, stateless turn/voting game plugin: it proves
// the Plugin interface's non-tick path (component K) by holding no
// in-memory state of its own, reading and writing everything through the
// room's GameState.Data bag.
package trivia

// Question is one round's prompt plus its answer options. CorrectIdx is
// stored with the room's settings bag, but no client-facing question
// payload or room view carries it before the round is revealed.
type Question struct {
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	CorrectIdx int      `json:"correctIdx"`
}

// Settings is this plugin's settings bag, merged into Room.Settings.Data.
type Settings struct {
	Questions       []Question `json:"questions"`
	SecondsPerRound int        `json:"secondsPerRound"`
}

// State is this plugin's per-room state, stored in Room.GameState.Data.
type State struct {
	Round   int            `json:"round"`
	Answers map[string]int `json:"answers"` // playerId -> chosen option index
	Scores  map[string]int `json:"scores"`
}

func defaultQuestions() []Question {
	return []Question{
		{Prompt: "Which shape has three sides?", Options: []string{"Square", "Triangle", "Circle"}, CorrectIdx: 1},
		{Prompt: "What color do you get mixing blue and yellow?", Options: []string{"Green", "Purple", "Orange"}, CorrectIdx: 0},
		{Prompt: "How many continents are there?", Options: []string{"5", "7", "9"}, CorrectIdx: 1},
	}
}

// answerFrame is the inbound answer:submit {optionIndex} client payload.
type answerFrame struct {
	OptionIndex int `json:"optionIndex"`
}

// revealPayload backs the trivia:reveal server-emitted event.
type revealPayload struct {
	Round      int            `json:"round"`
	CorrectIdx int            `json:"correctIdx"`
	Scores     map[string]int `json:"scores"`
}

// questionPayload backs the trivia:question server-emitted event.
type questionPayload struct {
	Round   int      `json:"round"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Seconds int      `json:"seconds"`
}

// finalPayload backs the trivia:final server-emitted event, sent once every
// question has been asked.
type finalPayload struct {
	Scores map[string]int `json:"scores"`
}
