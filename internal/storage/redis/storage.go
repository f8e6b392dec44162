package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

// NewClient parses the URL, applies pool settings and verifies the connection.
// The event bus shares this constructor.
func NewClient(cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, playerKey(player.ID), data, s.cfg.PlayerTTL).Err()
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	data, err := s.client.Get(ctx, playerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var player model.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	return s.client.Del(ctx, playerKey(id), connectionsKey(id)).Err()
}

func (s *Storage) PlayerExists(ctx context.Context, id model.PlayerID) (bool, error) {
	exists, err := s.client.Exists(ctx, playerKey(id)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Connection operations

// AddConnection adds handle to the player's set and refreshes the set's TTL,
// so handles left behind by a crashed process eventually lapse
func (s *Storage) AddConnection(ctx context.Context, id model.PlayerID, handle string) error {
	key := connectionsKey(id)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, handle)
	pipe.Expire(ctx, key, s.cfg.PlayerTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) RemoveConnection(ctx context.Context, id model.PlayerID, handle string) (int, error) {
	key := connectionsKey(id)
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, key, handle)
	remaining := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(remaining.Val()), nil
}

func (s *Storage) ConnectionCount(ctx context.Context, id model.PlayerID) (int, error) {
	n, err := s.client.SCard(ctx, connectionsKey(id)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Room operations

// SaveRoom writes the room inside WATCH/MULTI so a concurrent writer that
// bumped the version in between aborts the transaction.
func (s *Storage) SaveRoom(ctx context.Context, room *model.Room, expectedVersion int64) error {
	key := roomKey(room.ID)
	next := room.Clone()
	next.Version = expectedVersion + 1

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		current, err := storedRoomVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return model.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.RoomTTL)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrVersionConflict
	}
	if err != nil {
		return err
	}

	room.Version = next.Version
	return nil
}

func storedRoomVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.NoVersion, nil
		}
		return 0, err
	}

	var stored struct {
		Version int64
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, err
	}
	return stored.Version, nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	data, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom checks the version and deletes inside one WATCH/MULTI, like SaveRoom
func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID, expectedVersion int64) error {
	key := roomKey(id)
	if expectedVersion == storage.AnyVersion {
		return s.client.Del(ctx, key).Err()
	}

	txf := func(tx *redis.Tx) error {
		current, err := storedRoomVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == storage.NoVersion {
			return nil
		}
		if current != expectedVersion {
			return model.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrVersionConflict
	}
	return err
}

func (s *Storage) RoomExists(ctx context.Context, id model.RoomID) (bool, error) {
	exists, err := s.client.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Result operations

func (s *Storage) SaveResult(ctx context.Context, result *model.RoomResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, resultKey(result.RoomID), data, s.cfg.ResultTTL).Err()
}

func (s *Storage) GetResult(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error) {
	data, err := s.client.Get(ctx, resultKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrResultNotFound
		}
		return nil, err
	}

	var result model.RoomResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if result.Entries == nil {
		result.Entries = make(map[model.PlayerID]model.ResultEntry)
	}
	return &result, nil
}

// Passage operations

func (s *Storage) GetPassages(ctx context.Context) ([]string, error) {
	key := passagesKey()

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrNoPassages
	}

	return s.client.SMembers(ctx, key).Result()
}

func (s *Storage) SavePassages(ctx context.Context, passages []string) error {
	key := passagesKey()

	// Replace the whole set atomically
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)

	if len(passages) > 0 {
		members := make([]interface{}, len(passages))
		for i, p := range passages {
			members[i] = p
		}
		pipe.SAdd(ctx, key, members...)
	}

	_, err := pipe.Exec(ctx)
	return err
}
