package storage

import (
	"context"

	"github.com/mcoot/typerace/internal/model"
)

// NoVersion is passed to SaveRoom to create a room that must not exist yet
const NoVersion int64 = 0

// AnyVersion is passed to DeleteRoom to delete whatever version is stored
const AnyVersion int64 = -1

// Storage is the Presence Store: typed persistence shared by every server process
type Storage interface {
	// Player operations
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	DeletePlayer(ctx context.Context, id model.PlayerID) error
	PlayerExists(ctx context.Context, id model.PlayerID) (bool, error)

	// Connection operations. Each live connection of a player, on any
	// process, is one member of the player's connection set.
	AddConnection(ctx context.Context, id model.PlayerID, handle string) error
	// RemoveConnection returns the number of connections left
	RemoveConnection(ctx context.Context, id model.PlayerID, handle string) (int, error)
	ConnectionCount(ctx context.Context, id model.PlayerID) (int, error)

	// Room operations.
	// SaveRoom succeeds only if the stored version equals expectedVersion
	// (NoVersion for a room that does not exist yet); otherwise it returns
	// model.ErrVersionConflict. On success room.Version is incremented.
	SaveRoom(ctx context.Context, room *model.Room, expectedVersion int64) error
	GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error)
	// DeleteRoom removes the room only if its stored version equals
	// expectedVersion (AnyVersion skips the check); otherwise it returns
	// model.ErrVersionConflict. A missing room is not an error.
	DeleteRoom(ctx context.Context, id model.RoomID, expectedVersion int64) error
	RoomExists(ctx context.Context, id model.RoomID) (bool, error)

	// Result operations
	SaveResult(ctx context.Context, result *model.RoomResult) error
	GetResult(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error)

	// Passage operations
	GetPassages(ctx context.Context) ([]string, error)
	SavePassages(ctx context.Context, passages []string) error
}
