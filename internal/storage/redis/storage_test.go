package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.PlayerTTL = time.Hour
	cfg.RoomTTL = time.Hour
	cfg.ResultTTL = 2 * time.Hour

	s.storage = NewWithClient(client, cfg)
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) TestNewFailsWhenUnreachable() {
	cfg := DefaultConfig()
	cfg.URL = "redis://127.0.0.1:1"
	_, err := New(cfg)
	s.Error(err)
}

func (s *StorageSuite) TestNewConnects() {
	cfg := DefaultConfig()
	cfg.URL = "redis://" + s.mini.Addr()
	st, err := New(cfg)
	s.Require().NoError(err)
	s.NoError(st.Close())
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
	s.Equal(model.PresenceOnline, retrieved.Presence)
	s.Require().NotNil(retrieved.CurrentRoomID)
	s.Equal(roomID, *retrieved.CurrentRoomID)
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
}

func (s *StorageSuite) TestPlayerTTLRefreshedOnWrite() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice"}
	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))
	s.Equal(time.Hour, s.mini.TTL(playerKey(player.ID)))

	s.mini.FastForward(30 * time.Minute)
	s.Equal(30*time.Minute, s.mini.TTL(playerKey(player.ID)))

	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))
	s.Equal(time.Hour, s.mini.TTL(playerKey(player.ID)))
}

func (s *StorageSuite) TestPlayerExpires() {
	player := &model.Player{ID: "player-1", DisplayName: "Alice"}
	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))

	s.mini.FastForward(2 * time.Hour)

	_, err := s.storage.GetPlayer(s.ctx, "player-1")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// Room tests

func (s *StorageSuite) TestSaveAndGetRoom() {
	room := &model.Room{
		ID:         "ABC123",
		HostID:     "player-1",
		MemberIDs:  []model.PlayerID{"player-1", "player-2"},
		Status:     model.RoomStatusStarting,
		SharedText: "the quick brown fox",
	}

	err := s.storage.SaveRoom(s.ctx, room, storage.NoVersion)
	s.Require().NoError(err)
	s.Equal(int64(1), room.Version)

	retrieved, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(room.HostID, retrieved.HostID)
	s.Equal(room.MemberIDs, retrieved.MemberIDs)
	s.Equal(room.Status, retrieved.Status)
	s.Equal(room.SharedText, retrieved.SharedText)
	s.Equal(int64(1), retrieved.Version)
}

func (s *StorageSuite) TestSaveRoomVersionConflict() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, storage.NoVersion))

	dup := &model.Room{ID: "ABC123", HostID: "player-9", MemberIDs: []model.PlayerID{"player-9"}}
	s.ErrorIs(s.storage.SaveRoom(s.ctx, dup, storage.NoVersion), model.ErrVersionConflict)

	first, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	second, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)

	first.AddMember("player-2")
	s.Require().NoError(s.storage.SaveRoom(s.ctx, first, first.Version))
	s.Equal(int64(2), first.Version)

	second.AddMember("player-3")
	err = s.storage.SaveRoom(s.ctx, second, second.Version)
	s.ErrorIs(err, model.ErrVersionConflict)
	s.Equal(int64(1), second.Version, "failed save must not bump the caller's version")

	stored, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal([]model.PlayerID{"player-1", "player-2"}, stored.MemberIDs)
}

func (s *StorageSuite) TestGetRoomNotFound() {
	_, err := s.storage.GetRoom(s.ctx, "NOPE00")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestRoomExistsAndDelete() {
	exists, err := s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.False(exists)

	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	_ = s.storage.SaveRoom(s.ctx, room, storage.NoVersion)

	exists, err = s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.True(exists)

	s.Require().NoError(s.storage.DeleteRoom(s.ctx, "ABC123", room.Version))

	exists, err = s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *StorageSuite) TestDeleteRoomVersionConflict() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, storage.NoVersion))
	stale := room.Version

	room.MemberIDs = append(room.MemberIDs, "player-2")
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room, stale))

	s.ErrorIs(s.storage.DeleteRoom(s.ctx, "ABC123", stale), model.ErrVersionConflict)
	s.True(s.mini.Exists(roomKey("ABC123")))

	s.NoError(s.storage.DeleteRoom(s.ctx, "ABC123", storage.AnyVersion))
	s.False(s.mini.Exists(roomKey("ABC123")))
}

// Connection tests

func (s *StorageSuite) TestConnectionSet() {
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "a:1"))
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "b:1"))

	n, err := s.storage.ConnectionCount(s.ctx, "player-1")
	s.Require().NoError(err)
	s.Equal(2, n)
	s.True(s.mini.TTL(connectionsKey("player-1")) > 0, "connection set should have TTL")

	remaining, err := s.storage.RemoveConnection(s.ctx, "player-1", "a:1")
	s.Require().NoError(err)
	s.Equal(1, remaining)

	remaining, err = s.storage.RemoveConnection(s.ctx, "player-1", "b:1")
	s.Require().NoError(err)
	s.Equal(0, remaining)
	s.False(s.mini.Exists(connectionsKey("player-1")))
}

func (s *StorageSuite) TestDeletePlayerClearsConnections() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, &model.Player{ID: "player-1"}))
	s.Require().NoError(s.storage.AddConnection(s.ctx, "player-1", "a:1"))
	s.Require().NoError(s.storage.DeletePlayer(s.ctx, "player-1"))

	s.False(s.mini.Exists(connectionsKey("player-1")))
}

func (s *StorageSuite) TestRoomTTL() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	_ = s.storage.SaveRoom(s.ctx, room, storage.NoVersion)

	ttl := s.mini.TTL(roomKey(room.ID))
	s.True(ttl > 0, "Room should have TTL")
}

// Result tests

func (s *StorageSuite) TestSaveAndGetResult() {
	completedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	result := model.NewRoomResult("ABC123")
	result.Record("player-1", model.FinishMetrics{WPM: 80, Accuracy: 97, Time: 30})
	result.Record("player-2", model.FinishMetrics{WPM: 60, Accuracy: 92, Time: 41})
	result.CompletedAt = &completedAt

	err := s.storage.SaveResult(s.ctx, result)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetResult(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Len(retrieved.Entries, 2)
	s.Equal(1, retrieved.Entries["player-1"].Rank)
	s.Equal(80.0, retrieved.Entries["player-1"].WPM)
	s.Equal(2, retrieved.Entries["player-2"].Rank)
	s.Require().NotNil(retrieved.CompletedAt)
	s.True(completedAt.Equal(*retrieved.CompletedAt))
}

func (s *StorageSuite) TestResultOutlivesRoom() {
	room := &model.Room{ID: "ABC123", HostID: "player-1", MemberIDs: []model.PlayerID{"player-1"}}
	_ = s.storage.SaveRoom(s.ctx, room, storage.NoVersion)
	_ = s.storage.SaveResult(s.ctx, model.NewRoomResult("ABC123"))

	s.mini.FastForward(90 * time.Minute)

	exists, err := s.storage.RoomExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.False(exists)

	_, err = s.storage.GetResult(s.ctx, "ABC123")
	s.NoError(err)
}

func (s *StorageSuite) TestGetResultNotFound() {
	_, err := s.storage.GetResult(s.ctx, "ABC123")
	s.ErrorIs(err, model.ErrResultNotFound)
}

// Passage tests

func (s *StorageSuite) TestSaveAndGetPassages() {
	passages := []string{"the quick brown fox", "jumps over the lazy dog"}

	err := s.storage.SavePassages(s.ctx, passages)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetPassages(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch(passages, retrieved)
}

func (s *StorageSuite) TestGetPassagesNotLoaded() {
	_, err := s.storage.GetPassages(s.ctx)
	s.ErrorIs(err, model.ErrNoPassages)
}

func (s *StorageSuite) TestSavePassagesReplacesExisting() {
	_ = s.storage.SavePassages(s.ctx, []string{"old passage"})
	_ = s.storage.SavePassages(s.ctx, []string{"new passage"})

	retrieved, err := s.storage.GetPassages(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"new passage"}, retrieved)
}

func (s *StorageSuite) TestPassagesNoTTL() {
	_ = s.storage.SavePassages(s.ctx, []string{"a passage"})

	ttl := s.mini.TTL(passagesKey())
	s.Equal(time.Duration(0), ttl, "Passages should not have TTL")
}
