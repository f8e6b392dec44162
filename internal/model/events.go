package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the type of a wire event
type EventType string

const (
	// Client commands (echoed back with results)
	EventConnect        EventType = "connect"
	EventCreateGame     EventType = "create_game"
	EventJoinGame       EventType = "join_game"
	EventCheckGameID    EventType = "check_game_id"
	EventGetLobby       EventType = "get_lobby"
	EventChangeUsername EventType = "change_username"
	EventStartGame      EventType = "start_game"
	EventPlayerUpdate   EventType = "player_update"
	EventFinishGame     EventType = "finish_game"
	EventRestartGame    EventType = "restart_game"
	EventLeaveGame      EventType = "leave_game"
	EventHealthCheck    EventType = "health_check"

	// Room broadcasts
	EventNewPlayerJoined EventType = "new_player_joined"
	EventUsernameChanged EventType = "username_changed"
	EventGameStarting    EventType = "game_starting"
	EventGameCountdown   EventType = "game_starting_countdown"
	EventGameStarted     EventType = "game_started"
	EventPlayerLeft      EventType = "player_left"
	EventGameRestarting  EventType = "game_restarting"
	EventError           EventType = "error"
)

// Envelope is the JSON frame exchanged in both directions
type Envelope struct {
	Event   EventType       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals a payload into an envelope
func NewEnvelope(event EventType, payload any) (Envelope, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

// EncodeEvent marshals an event and its payload into a wire frame
func EncodeEvent(event EventType, payload any) ([]byte, error) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Request payloads

// ConnectRequest carries a previously issued player id, if any
type ConnectRequest struct {
	PlayerID string `json:"playerId,omitempty"`
}

// GameRequest names a room by its invite code
type GameRequest struct {
	GameID string `json:"gameId"`
}

// ChangeUsernameRequest carries a new display name
type ChangeUsernameRequest struct {
	Username string `json:"username"`
}

// PlayerUpdateRequest carries the typing position in the shared text
type PlayerUpdateRequest struct {
	Position int `json:"position"`
}

// FinishGameRequest carries the client-computed race metrics
type FinishGameRequest struct {
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
}

// Response and broadcast payloads

// ConnectResponse reports the bound player id and a resumable lobby
type ConnectResponse struct {
	PlayerID       string  `json:"playerId"`
	ExistingGameID *string `json:"existingGameId"`
}

// GameResponse names the room a command acted on
type GameResponse struct {
	GameID string `json:"gameId"`
}

// CheckGameResponse reports whether a room exists and accepts players
type CheckGameResponse struct {
	GameID   string `json:"gameId"`
	Exists   bool   `json:"exists"`
	Joinable bool   `json:"joinable"`
}

// LobbyPlayer is one member in a lobby view
type LobbyPlayer struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// LobbyResponse is a snapshot of a room's composition
type LobbyResponse struct {
	GameID  string        `json:"gameId"`
	HostID  string        `json:"hostId"`
	Status  string        `json:"status"`
	Players []LobbyPlayer `json:"players"`
}

// PlayerJoinedPayload announces a new member
type PlayerJoinedPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// UsernameChangedPayload announces a rename
type UsernameChangedPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// GameStartingPayload carries the shared race text
type GameStartingPayload struct {
	GameID string `json:"gameId"`
	Text   string `json:"text"`
}

// CountdownPayload carries one countdown tick
type CountdownPayload struct {
	Count int `json:"count"`
}

// PlayerProgressPayload relays a member's typing position
type PlayerProgressPayload struct {
	PlayerID string `json:"playerId"`
	Position int    `json:"position"`
}

// ResultPayload is one ranked entry of a finished race
type ResultPayload struct {
	PlayerID string  `json:"playerId"`
	Username string  `json:"username,omitempty"`
	Rank     int     `json:"rank"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
}

// FinishGamePayload carries the ranked results
type FinishGamePayload struct {
	GameID  string          `json:"gameId"`
	Results []ResultPayload `json:"results"`
}

// PlayerLeftPayload announces a departure and the resulting host
type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
	HostID   string `json:"hostId"`
}

// HealthPayload answers health_check
type HealthPayload struct {
	Status string `json:"status"`
}

// ErrorPayload is the generic error event body
type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"` // The command that failed, if known
}
