package memory

import (
	"context"
	"sync"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// Records are copied on the way in and out so callers never share state.
type Storage struct {
	mu sync.RWMutex

	players  map[model.PlayerID]*model.Player
	conns    map[model.PlayerID]map[string]struct{}
	rooms    map[model.RoomID]*model.Room
	results  map[model.RoomID]*model.RoomResult
	passages []string
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players: make(map[model.PlayerID]*model.Player),
		conns:   make(map[model.PlayerID]map[string]struct{}),
		rooms:   make(map[model.RoomID]*model.Room),
		results: make(map[model.RoomID]*model.RoomResult),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[player.ID] = player.Clone()
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return player.Clone(), nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, id)
	delete(s.conns, id)
	return nil
}

func (s *Storage) PlayerExists(ctx context.Context, id model.PlayerID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.players[id]
	return ok, nil
}

// Connection operations

func (s *Storage) AddConnection(ctx context.Context, id model.PlayerID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[id] == nil {
		s.conns[id] = make(map[string]struct{})
	}
	s.conns[id][handle] = struct{}{}
	return nil
}

func (s *Storage) RemoveConnection(ctx context.Context, id model.PlayerID, handle string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.conns[id]
	delete(set, handle)
	if len(set) == 0 {
		delete(s.conns, id)
	}
	return len(set), nil
}

func (s *Storage) ConnectionCount(ctx context.Context, id model.PlayerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[id]), nil
}

// Room operations

func (s *Storage) SaveRoom(ctx context.Context, room *model.Room, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64 = storage.NoVersion
	if existing, ok := s.rooms[room.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return model.ErrVersionConflict
	}

	room.Version = expectedVersion + 1
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rooms[id]
	if !ok {
		return nil
	}
	if expectedVersion != storage.AnyVersion && existing.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	delete(s.rooms, id)
	return nil
}

func (s *Storage) RoomExists(ctx context.Context, id model.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[id]
	return ok, nil
}

// Result operations

func (s *Storage) SaveResult(ctx context.Context, result *model.RoomResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RoomID] = result.Clone()
	return nil
}

func (s *Storage) GetResult(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[roomID]
	if !ok {
		return nil, model.ErrResultNotFound
	}
	return result.Clone(), nil
}

// Passage operations

func (s *Storage) GetPassages(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.passages) == 0 {
		return nil, model.ErrNoPassages
	}
	out := make([]string, len(s.passages))
	copy(out, s.passages)
	return out, nil
}

func (s *Storage) SavePassages(ctx context.Context, passages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = make([]string, len(passages))
	copy(s.passages, passages)
	return nil
}
