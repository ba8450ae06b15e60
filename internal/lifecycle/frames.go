package lifecycle

import "encoding/json"

// roomCreateFrame is the inbound room:create payload.
type roomCreateFrame struct {
	PlayerName     string          `json:"playerName"`
	Settings       *settingsFrame  `json:"settings,omitempty"`
	RoomCode       string          `json:"roomCode,omitempty"`
	IsPlatformRoom bool            `json:"isPlatformRoom,omitempty"`
	PlatformToken  string          `json:"platformToken,omitempty"`
	GameID         string          `json:"gameId"`
	PlatformData   json.RawMessage `json:"platformMetadata,omitempty"`
}

type settingsFrame struct {
	MinPlayers int             `json:"minPlayers"`
	MaxPlayers int             `json:"maxPlayers"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// roomJoinFrame is the inbound room:join payload.
type roomJoinFrame struct {
	RoomCode     string `json:"roomCode"`
	PlayerName   string `json:"playerName"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// chatMessageFrame is the inbound chat:message payload.
type chatMessageFrame struct {
	Message string `json:"message"`
}

// heartbeatFrame is the inbound mobile-heartbeat payload.
type heartbeatFrame struct {
	Timestamp      int64 `json:"timestamp"`
	IsBackgrounded bool  `json:"isBackgrounded"`
}

// syncStateFrame is the inbound game:sync-state payload.
type syncStateFrame struct {
	RoomCode string `json:"roomCode"`
}

// platformReturnFrame is the inbound platform:return payload.
type platformReturnFrame struct {
	RoomCode string `json:"roomCode"`
	Mode     string `json:"mode"` // "group" | "individual"
	Reason   string `json:"reason,omitempty"`
}

// fallbackRoomCodeFrame extracts an explicit roomCode for plugin events
// whose owning room can no longer be found by connection id (e.g. just
// after a reconnect rotated the id).
type fallbackRoomCodeFrame struct {
	RoomCode string `json:"roomCode,omitempty"`
}

// roomCreatedPayload backs the room:created server-emitted event.
type roomCreatedPayload struct {
	Room         any    `json:"room"`
	SessionToken string `json:"sessionToken"`
}

// roomJoinedPayload backs the room:joined server-emitted event.
type roomJoinedPayload struct {
	Room         any    `json:"room"`
	SessionToken string `json:"sessionToken"`
	PlayerID     string `json:"playerId"`
}

// playerJoinedPayload is a {room, playerId} body. The coordinator's
// player:joined broadcast does not use it: each recipient is sent its own
// SerializeRoom view directly.
type playerJoinedPayload struct {
	Room     any    `json:"room"`
	PlayerID string `json:"playerId"`
}

// playerLeftPayload backs the player:left broadcast.
type playerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

// playerDisconnectedPayload backs the player:disconnected broadcast.
type playerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// hostDisconnectedPayload backs the host:disconnected broadcast.
type hostDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// chatBroadcastPayload backs the chat:message broadcast.
type chatBroadcastPayload struct {
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// platformReturnRedirectPayload backs the platform:return-redirect event.
type platformReturnRedirectPayload struct {
	Ok              bool   `json:"ok"`
	ReturnURL       string `json:"returnUrl"`
	SessionToken    string `json:"sessionToken,omitempty"`
	PlayersReturned int    `json:"playersReturned,omitempty"`
	APIError        string `json:"apiError,omitempty"`
}
