package gateway

import (
	"errors"

	"github.com/mcoot/typerace/internal/model"
)

// Client-facing messages
const (
	MessageInvalid  = "invalid message"
	MessageInternal = "internal error"
)

// clientMessage maps an error to the message sent in the error event.
// internal is true when the error is a transport or store failure that
// should be logged rather than shown.
func clientMessage(err error) (message string, internal bool) {
	switch {
	case errors.Is(err, model.ErrMalformedMessage):
		return MessageInvalid, false
	case errors.Is(err, model.ErrUnsupportedEvent):
		return err.Error(), false
	case errors.Is(err, model.ErrNotBound):
		return "connect and join a game first", false
	case errors.Is(err, model.ErrPlayerNotFound):
		return "unknown player", false
	case errors.Is(err, model.ErrInvalidName):
		return "username must not be empty", false
	case errors.Is(err, model.ErrRoomNotFound):
		return "game not found", false
	case errors.Is(err, model.ErrRoomFull):
		return "game is full", false
	case errors.Is(err, model.ErrRoomNotJoinable):
		return "game has already started", false
	case errors.Is(err, model.ErrAlreadyInRoom):
		return "already in a game", false
	case errors.Is(err, model.ErrNotInRoom):
		return "not in this game", false
	case errors.Is(err, model.ErrNotHost):
		return "only the host can do that", false
	case errors.Is(err, model.ErrInsufficientPlayers):
		return "not enough players to start", false
	case errors.Is(err, model.ErrInvalidState):
		return "not allowed at this stage of the game", false
	case errors.Is(err, model.ErrVersionConflict):
		return "game is busy, try again", false
	default:
		return MessageInternal, true
	}
}
