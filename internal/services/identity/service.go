package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

const (
	guestNameAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	guestNameLength   = 4
	maxNameLength     = 32
	expireTimeout     = 10 * time.Second
)

// RoomLeaver removes a player from a room. Implemented by the room service.
type RoomLeaver interface {
	Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
}

// Config holds configuration for the identity service
type Config struct {
	// PresenceGrace is how long an offline player is kept before removal
	PresenceGrace time.Duration

	// ResultLogSize caps the number of past results kept per player
	ResultLogSize int
}

// DefaultConfig returns default identity configuration
func DefaultConfig() Config {
	return Config{
		PresenceGrace: 60 * time.Second,
		ResultLogSize: 20,
	}
}

// Service tracks players and their presence across connections. Local maps
// cover this process; the store's connection sets cover every process.
type Service struct {
	storage  storage.Storage
	instance string
	clock    clock.Clock
	random   random.Random
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config

	leaverMu sync.RWMutex
	leaver   RoomLeaver

	mu     sync.Mutex
	conns  map[string]model.PlayerID
	live   map[model.PlayerID]int
	timers map[model.PlayerID]clock.Timer
}

// New creates a new identity service
func New(
	storage storage.Storage,
	clk clock.Clock,
	random random.Random,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	defaults := DefaultConfig()
	if cfg.PresenceGrace <= 0 {
		cfg.PresenceGrace = defaults.PresenceGrace
	}
	if cfg.ResultLogSize <= 0 {
		cfg.ResultLogSize = defaults.ResultLogSize
	}
	return &Service{
		storage:  storage,
		instance: uuid.NewString(),
		clock:    clk,
		random:   random,
		metrics:  m,
		logger:   logger.With(slog.String("component", "identity")),
		cfg:      cfg,
		conns:    make(map[string]model.PlayerID),
		live:     make(map[model.PlayerID]int),
		timers:   make(map[model.PlayerID]clock.Timer),
	}
}

// SetRoomLeaver wires the room service in after construction
func (s *Service) SetRoomLeaver(leaver RoomLeaver) {
	s.leaverMu.Lock()
	defer s.leaverMu.Unlock()
	s.leaver = leaver
}

// Connect binds a connection to a player. An empty or unknown knownID mints a
// new player. For a known player the id of its current room is returned if
// that room still exists and is in the lobby.
func (s *Service) Connect(ctx context.Context, connID string, knownID model.PlayerID) (model.PlayerID, *model.RoomID, error) {
	var player *model.Player
	if knownID != "" {
		existing, err := s.storage.GetPlayer(ctx, knownID)
		switch {
		case err == nil:
			player = existing
		case errors.Is(err, model.ErrPlayerNotFound):
			s.logger.Info("unknown player id, issuing new identity",
				slog.String("known_id", string(knownID)))
		default:
			return "", nil, err
		}
	}

	now := s.clock.Now()
	resumed := false
	if player == nil {
		player = &model.Player{
			ID:          model.PlayerID(s.random.ID()),
			DisplayName: "Guest-" + s.random.String(guestNameLength, guestNameAlphabet),
			CreatedAt:   now,
		}
	} else {
		resumed = true
	}
	player.Presence = model.PresenceOnline
	player.LastSeenAt = now

	roomID, err := s.resumableRoom(ctx, player)
	if err != nil {
		return "", nil, err
	}

	if err := s.storage.SavePlayer(ctx, player); err != nil {
		return "", nil, err
	}
	if err := s.storage.AddConnection(ctx, player.ID, s.handle(connID)); err != nil {
		return "", nil, err
	}

	if previous := s.bind(connID, player.ID); previous != "" {
		if _, err := s.storage.RemoveConnection(ctx, previous, s.handle(connID)); err != nil {
			s.logger.Warn("failed to release rebound connection",
				slog.String("player_id", string(previous)),
				slog.String("conn_id", connID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("player connected",
		slog.String("player_id", string(player.ID)),
		slog.String("conn_id", connID),
		slog.Bool("resumed", resumed))

	return player.ID, roomID, nil
}

// resumableRoom reconciles the player's room pointer on reconnect. A pointer
// to a deleted room is cleared. A room that has left the lobby cannot be
// resumed, so the player leaves it.
func (s *Service) resumableRoom(ctx context.Context, player *model.Player) (*model.RoomID, error) {
	if !player.InRoom() {
		return nil, nil
	}
	roomID := *player.CurrentRoomID

	room, err := s.storage.GetRoom(ctx, roomID)
	if errors.Is(err, model.ErrRoomNotFound) {
		player.CurrentRoomID = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !room.HasMember(player.ID) {
		player.CurrentRoomID = nil
		return nil, nil
	}
	if room.Status == model.RoomStatusLobby {
		return &roomID, nil
	}

	if leaver := s.roomLeaver(); leaver != nil {
		if err := leaver.Leave(ctx, roomID, player.ID); err != nil && !errors.Is(err, model.ErrRoomNotFound) {
			return nil, err
		}
	}
	player.CurrentRoomID = nil
	return nil, nil
}

// handle names a connection uniquely across processes
func (s *Service) handle(connID string) string {
	return s.instance + ":" + connID
}

// bind records connID for playerID and returns the player it was bound to
// before, if that was someone else
func (s *Service) bind(connID string, playerID model.PlayerID) (previous model.PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bound, ok := s.conns[connID]; ok {
		if bound == playerID {
			return ""
		}
		s.releaseLocked(bound)
		previous = bound
	}

	s.conns[connID] = playerID
	s.live[playerID]++
	if timer, ok := s.timers[playerID]; ok {
		timer.Stop()
		delete(s.timers, playerID)
		s.logger.Info("pending removal cancelled", slog.String("player_id", string(playerID)))
	}
	s.metrics.OnlinePlayers.Set(float64(len(s.live)))
	return previous
}

func (s *Service) releaseLocked(playerID model.PlayerID) {
	s.live[playerID]--
	if s.live[playerID] <= 0 {
		delete(s.live, playerID)
	}
}

// Disconnect unbinds a connection. When the player's last connection on any
// process closes it is marked offline and scheduled for removal after the
// grace period.
func (s *Service) Disconnect(ctx context.Context, connID string) error {
	s.mu.Lock()
	playerID, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.conns, connID)
	s.releaseLocked(playerID)
	s.metrics.OnlinePlayers.Set(float64(len(s.live)))
	s.mu.Unlock()

	remaining, err := s.storage.RemoveConnection(ctx, playerID, s.handle(connID))
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	player, err := s.storage.GetPlayer(ctx, playerID)
	if errors.Is(err, model.ErrPlayerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	player.Presence = model.PresenceOffline
	player.LastSeenAt = s.clock.Now()
	if err := s.storage.SavePlayer(ctx, player); err != nil {
		return err
	}

	s.scheduleRemoval(playerID)

	s.logger.Info("player disconnected",
		slog.String("player_id", string(playerID)),
		slog.String("conn_id", connID),
		slog.Duration("grace", s.cfg.PresenceGrace))
	return nil
}

func (s *Service) scheduleRemoval(playerID model.PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live[playerID] > 0 {
		return
	}
	if timer, ok := s.timers[playerID]; ok {
		timer.Stop()
	}
	s.timers[playerID] = s.clock.AfterFunc(s.cfg.PresenceGrace, func() {
		s.expire(playerID)
	})
}

// expire removes a player whose grace period ran out without a reconnect
func (s *Service) expire(playerID model.PlayerID) {
	s.mu.Lock()
	delete(s.timers, playerID)
	reconnected := s.live[playerID] > 0
	s.mu.Unlock()
	if reconnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	player, err := s.storage.GetPlayer(ctx, playerID)
	if errors.Is(err, model.ErrPlayerNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("failed to load expiring player",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
		return
	}

	// Reconnected through another process
	if player.Presence == model.PresenceOnline {
		return
	}
	remaining, err := s.storage.ConnectionCount(ctx, playerID)
	if err != nil {
		s.logger.Error("failed to count connections of expiring player",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
		return
	}
	if remaining > 0 {
		return
	}

	if player.InRoom() {
		if leaver := s.roomLeaver(); leaver != nil {
			err := leaver.Leave(ctx, *player.CurrentRoomID, playerID)
			if err != nil && !errors.Is(err, model.ErrRoomNotFound) && !errors.Is(err, model.ErrNotInRoom) {
				s.logger.Error("failed to remove expired player from room",
					slog.String("player_id", string(playerID)),
					slog.String("room_id", string(*player.CurrentRoomID)),
					slog.String("error", err.Error()))
			}
		}
	}

	if err := s.storage.DeletePlayer(ctx, playerID); err != nil {
		s.logger.Error("failed to delete expired player",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("player expired", slog.String("player_id", string(playerID)))
}

func (s *Service) roomLeaver() RoomLeaver {
	s.leaverMu.RLock()
	defer s.leaverMu.RUnlock()
	return s.leaver
}

// Rename changes a player's display name
func (s *Service) Rename(ctx context.Context, playerID model.PlayerID, name string) (*model.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrInvalidName
	}
	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}

	player, err := s.storage.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	player.DisplayName = name
	player.LastSeenAt = s.clock.Now()
	if err := s.storage.SavePlayer(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// GetPlayer returns a player by id
func (s *Service) GetPlayer(ctx context.Context, playerID model.PlayerID) (*model.Player, error) {
	return s.storage.GetPlayer(ctx, playerID)
}

// SetCurrentRoom points the player at a room, or detaches it when roomID is nil
func (s *Service) SetCurrentRoom(ctx context.Context, playerID model.PlayerID, roomID *model.RoomID) error {
	player, err := s.storage.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if roomID != nil {
		id := *roomID
		player.CurrentRoomID = &id
	} else {
		player.CurrentRoomID = nil
	}
	return s.storage.SavePlayer(ctx, player)
}

// RecordResult appends a finished race to the player's result log
func (s *Service) RecordResult(ctx context.Context, playerID model.PlayerID, summary model.ResultSummary) error {
	player, err := s.storage.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	player.AppendResult(summary, s.cfg.ResultLogSize)
	return s.storage.SavePlayer(ctx, player)
}

// IsOnline reports whether the player has a live connection to this process
func (s *Service) IsOnline(playerID model.PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[playerID] > 0
}

// Close cancels every pending removal
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
