package lightcycles

// countdownPayload backs the countdown {value} server-emitted event.
type countdownPayload struct {
	Value int `json:"value"`
}

// roundStartPayload backs the round:start {round, gameTime, players, config}
// server-emitted event.
type roundStartPayload struct {
	Round    int             `json:"round"`
	GameTime float64         `json:"gameTime"`
	Players  []CycleSnapshot `json:"players"`
	Config   Config          `json:"config"`
}

// syncPayload backs the periodic sync {gameTime, players} full-state event.
type syncPayload struct {
	GameTime float64         `json:"gameTime"`
	Players  []CycleSnapshot `json:"players"`
}

// roundOverPayload backs round:over {winnerId, round, scores}.
type roundOverPayload struct {
	WinnerID string         `json:"winnerId"`
	Round    int            `json:"round"`
	Scores   map[string]int `json:"scores"`
}

// gameOverPayload backs game:over {winnerId, finalScores}.
type gameOverPayload struct {
	WinnerID    string         `json:"winnerId"`
	FinalScores map[string]int `json:"finalScores"`
}

// turnFrame is the inbound turn {turnDir | legacyDirection, messageId?}
// client payload.
type turnFrame struct {
	TurnDir         *int    `json:"turnDir,omitempty"`
	LegacyDirection string  `json:"legacyDirection,omitempty"`
	MessageID       *uint64 `json:"messageId,omitempty"`
}

// readyFrame is the inbound player:ready {ready} client payload.
type readyFrame struct {
	Ready bool `json:"ready"`
}

// settingsUpdateFrame is the inbound settings:update {...} client payload,
// merged shallowly into the room's stored Config by the plugin layer.
type settingsUpdateFrame struct {
	ArenaSize            *float64 `json:"arenaSize,omitempty"`
	Speed                *float64 `json:"speed,omitempty"`
	RoundsToWin          *int     `json:"roundsToWin,omitempty"`
	WrapAround           *bool    `json:"wrapAround,omitempty"`
	SelfCollisionEnabled *bool    `json:"selfCollisionEnabled,omitempty"`
}
