package redis

import (
	"fmt"

	"github.com/mcoot/typerace/internal/model"
)

// Key prefix for all race data
const keyPrefix = "typerace"

// playerKey returns the Redis key for a Player
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// connectionsKey returns the Redis key for a Player's live connection set
func connectionsKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:conns:%s", keyPrefix, id)
}

// roomKey returns the Redis key for a Room
func roomKey(id model.RoomID) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, id)
}

// resultKey returns the Redis key for the result document of a room
func resultKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:result:%s", keyPrefix, roomID)
}

// passagesKey returns the Redis key for the passage set
func passagesKey() string {
	return fmt.Sprintf("%s:passages", keyPrefix)
}
