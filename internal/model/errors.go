package model

import "errors"

// Common errors used across the application
var (
	// Protocol errors
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrNotBound         = errors.New("connection is not bound to a player and room")

	// Player errors
	ErrPlayerNotFound = errors.New("player not found")
	ErrInvalidName    = errors.New("display name must not be empty")

	// Room errors
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomNotJoinable     = errors.New("room is not accepting players")
	ErrAlreadyInRoom       = errors.New("player is already in a room")
	ErrNotInRoom           = errors.New("player is not in room")
	ErrNotHost             = errors.New("player is not the host")
	ErrInsufficientPlayers = errors.New("insufficient players to start race")
	ErrInvalidState        = errors.New("action not allowed in current room state")

	// Storage errors
	ErrResultNotFound  = errors.New("result not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrNoPassages      = errors.New("no passages loaded")
)
