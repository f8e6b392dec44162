package memory

import (
	"context"
	"testing"
	"time"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/stretchr/testify/suite"
)

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
}

// Player tests

func (s *StorageSuite) TestSaveAndGetPlayer() {
	roomID := model.RoomID("ABC123")
	player := &model.Player{
		ID:            "player-1",
		DisplayName:   "Alice",
		CurrentRoomID: &roomID,
		Presence:      model.PresenceOnline,
		CreatedAt:     time.Now(),
	}

	err := s.storage.SavePlayer(s.ctx, player)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(player.ID, retrieved.ID)
	s.Equal(player.DisplayName, retrieved.DisplayName)
	s.Require().NotNil(retrieved.CurrentRoomID)
	s.Equal(roomID, *retrieved.CurrentRoomID)
}

func (s *StorageSuite) TestGetPlayerReturnsCopy() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice"}
	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))

	player.DisplayName = "Mutated"
	retrieved, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("Alice", retrieved.DisplayName)

	retrieved.DisplayName = "Mutated again"
	again, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal("Alice", again.DisplayName)
}

func (s *StorageSuite) TestGetPlayerNotFound() {
	_, err := s.storage.GetPlayer(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestDeletePlayer() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice"}
	_ = s.storage.SavePlayer(s.ctx, player)

	exists, err := s.storage.PlayerExists(s.ctx, "player-1")
	s.Require().NoError(err)
	s.True(exists)

	err = s.storage.DeletePlayer(s.ctx, "player-1")
	s.Require().NoError(err)

	_, err = s.storage.GetPlayer(s.ctx, "player-1")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	exists, err = s.storage.PlayerExists(s.ctx, "player-1")
	s.Require().NoError(err)
	s.False(exists)
}

// Room tests

func (s *StorageSuite) TestSaveAndGetRoom() {
	room := &model.Room{
		ID:        "ABC123",
		HostID:    "player-1",
		MemberIDs: []model.PlayerID{"player-1", "player-2"},
		Status:    model.RoomStatusLobby,
	}

	err := s.storage.SaveRoom(s.ctx, room, storage.NoVersion)
	s.Require().NoError(err)
	s.Equal(int64(1), room.Version)

	retrieved, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(room.HostID, retrieved.HostID)
	s.Equal(room.MemberIDs, retrieved.MemberIDs)
	s.Equal(int64(1), retrieved.Version)
}

func (s *StorageSuite) TestSaveRoomVersionConflict() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, storage.NoVersion))

	// Creating again must fail
	dup := &model.Room{ID: "ABC123", HostID: "player-9", MemberIDs: []model.PlayerID{"player-9"}}
	s.ErrorIs(s.storage.SaveRoom(s.ctx, dup, storage.NoVersion), model.ErrVersionConflict)

	// Two writers read version 1; only the first succeeds
	first, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	second, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)

	first.AddMember("player-2")
	s.Require().NoError(s.storage.SaveRoom(s.ctx, first, 1))

	second.AddMember("player-3")
	s.ErrorIs(s.storage.SaveRoom(s.ctx, second, 1), model.ErrVersionConflict)

	stored, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"player-1", "player-2"}, stored.MemberIDs)
	s.Equal(int64(2), stored.Version)
}

func (s *StorageSuite) TestGetRoomNotFound() {
	_, err := s.storage.GetRoom(s.ctx, "NOPE00")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestDeleteRoom() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	_ = s.storage.SaveRoom(s.ctx, room, storage.NoVersion)

	exists, err := s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.True(exists)

	err = s.storage.DeleteRoom(s.ctx, "ABC123", room.Version)
	s.Require().NoError(err)

	exists, err = s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.False(exists)

	// A deleted room can be created again from scratch
	s.NoError(s.storage.SaveRoom(s.ctx, &model.Room{ID: "ABC123"}, storage.NoVersion))
}

func (s *StorageSuite) TestDeleteRoomVersionConflict() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, storage.NoVersion))
	stale := room.Version

	room.MemberIDs = append(room.MemberIDs, "player-2")
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, stale))

	err := s.storage.DeleteRoom(s.ctx, "ABC123", stale)
	s.ErrorIs(err, model.ErrVersionConflict)

	exists, err := s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.True(exists)

	s.NoError(s.storage.DeleteRoom(s.ctx, "ABC123", storage.AnyVersion))
	s.NoError(s.storage.DeleteRoom(s.ctx, "ABC123", room.Version), "missing room is not an error")
}

// Connection tests

func (s *StorageSuite) TestConnectionSet() {
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "a:1"))
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "b:1"))
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "a:1"))

	n, err := s.storage.ConnectionCount(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(2, n)

	remaining, err := s.storage.RemoveConnection(s.ctx, "player-1", "a:1")
	s.Require().NoError(err)
	s.Equal(1, remaining)

	remaining, err = s.storage.RemoveConnection(s.ctx, "player-1", "b:1")
	s.Require().NoError(err)
	s.Equal(0, remaining)

	remaining, err = s.storage.RemoveConnection(s.ctx, "player-1", "b:1")
	s.Require().NoError(err)
	s.Equal(0, remaining)
}

func (s *StorageSuite) TestDeletePlayerClearsConnections() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, &model.Player{ID: "player-1"}))
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "a:1"))
	s.Require().NoError(s.storage.DeletePlayer(s.ctx, "player-1"))

	n, err := s.storage.ConnectionCount(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Zero(n)
}

// Result tests

func (s *StorageSuite) TestSaveAndGetResult() {
	result := model.NewRoomResult("ABC123")
	result.Record("player-1", model.FinishMetrics{WPM: 80, Accuracy: 97, Time: 30})
	result.Record("player-2", model.FinishMetrics{WPM: 60, Accuracy: 92, Time: 41})

	err := s.storage.SaveResult(s.ctx, result)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetResult(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Len(retrieved.Entries, 2)
	s.Equal(1, retrieved.Entries["player-1"].Rank)
	s.Equal(2, retrieved.Entries["player-2"].Rank)
}

func (s *StorageSuite) TestGetResultNotFound() {
	_, err := s.storage.GetResult(s.ctx, "ABC123")
	s.ErrorIs(err, model.ErrResultNotFound)
}

// Passage tests

func (s *StorageSuite) TestPassages() {
	_, err := s.storage.GetPassages(s.ctx)
	s.ErrorIs(err, model.ErrNoPassages)

	err = s.storage.SavePassages(s.ctx, []string{"the quick brown fox", "jumps over"})
	s.Require().NoError(err)

	passages, err := s.storage.GetPassages(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"the quick brown fox", "jumps over"}, passages)
}
