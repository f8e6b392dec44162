package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

const (
	// CodeLength is the length of generated room codes
	CodeLength = 6
	// CodeAlphabet is the characters used in room codes (avoid confusing chars)
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxCodeAttempts     = 10
	maxMutationAttempts = 5
	timerTimeout        = 10 * time.Second
)

// errNoChange aborts a mutation without writing
var errNoChange = errors.New("no change")

// Identity is the subset of the identity service the room service depends on
type Identity interface {
	GetPlayer(ctx context.Context, playerID model.PlayerID) (*model.Player, error)
	Rename(ctx context.Context, playerID model.PlayerID, name string) (*model.Player, error)
	SetCurrentRoom(ctx context.Context, playerID model.PlayerID, roomID *model.RoomID) error
	RecordResult(ctx context.Context, playerID model.PlayerID, summary model.ResultSummary) error
}

// Broadcaster publishes an event to every member of a room
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID model.RoomID, event model.EventType, payload any) error
}

// Passages chooses the shared race text
type Passages interface {
	Pick(ctx context.Context) (string, error)
}

// Config holds configuration for the room service
type Config struct {
	Room model.RoomConfig

	// CountdownSeconds is the number of countdown ticks before the race starts
	CountdownSeconds int
	CountdownTick    time.Duration
}

// DefaultConfig returns default room configuration
func DefaultConfig() Config {
	return Config{
		Room:             model.DefaultRoomConfig(),
		CountdownSeconds: 10,
		CountdownTick:    time.Second,
	}
}

// Service drives rooms through lobby, countdown, race and results
type Service struct {
	storage     storage.Storage
	identity    Identity
	broadcaster Broadcaster
	passages    Passages
	clock       clock.Clock
	random      random.Random
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config
}

// New creates a new room service
func New(
	storage storage.Storage,
	identity Identity,
	broadcaster Broadcaster,
	passages Passages,
	clock clock.Clock,
	random random.Random,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	defaults := DefaultConfig()
	if cfg.Room.MaxSize <= 0 {
		cfg.Room.MaxSize = defaults.Room.MaxSize
	}
	if cfg.Room.MinSize <= 0 {
		cfg.Room.MinSize = defaults.Room.MinSize
	}
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = defaults.CountdownTick
	}
	if cfg.CountdownSeconds < 0 {
		cfg.CountdownSeconds = 0
	}
	return &Service{
		storage:     storage,
		identity:    identity,
		broadcaster: broadcaster,
		passages:    passages,
		clock:       clock,
		random:      random,
		metrics:     m,
		logger:      logger.With(slog.String("component", "room")),
		cfg:         cfg,
	}
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.cfg
}

// mutate runs a compare-and-swap read-modify-write on a room, retrying on
// version conflicts. fn may run several times and must only touch room.
// A room left empty by fn is deleted instead of written, under the same
// version check.
func (s *Service) mutate(ctx context.Context, roomID model.RoomID, fn func(room *model.Room) error) (*model.Room, error) {
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		room, err := s.storage.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		expected := room.Version

		if err := fn(room); err != nil {
			return room, err
		}
		room.UpdatedAt = s.clock.Now()

		if room.IsEmpty() {
			err = s.storage.DeleteRoom(ctx, roomID, expected)
		} else {
			err = s.storage.SaveRoom(ctx, room, expected)
		}
		if errors.Is(err, model.ErrVersionConflict) {
			s.logger.Debug("room version conflict, retrying",
				slog.String("room_id", string(roomID)),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, fmt.Errorf("room %s: %w", roomID, model.ErrVersionConflict)
}

// ensureDetached fails with ErrAlreadyInRoom if the player is attached to a
// live room. A pointer to a room that no longer holds the player is cleared.
func (s *Service) ensureDetached(ctx context.Context, player *model.Player) error {
	if !player.InRoom() {
		return nil
	}
	current, err := s.storage.GetRoom(ctx, *player.CurrentRoomID)
	switch {
	case err == nil && current.HasMember(player.ID):
		return model.ErrAlreadyInRoom
	case err == nil, errors.Is(err, model.ErrRoomNotFound):
		return s.identity.SetCurrentRoom(ctx, player.ID, nil)
	default:
		return err
	}
}

// Create opens a new room in the lobby with the caller as host
func (s *Service) Create(ctx context.Context, hostID model.PlayerID) (*model.Room, error) {
	host, err := s.identity.GetPlayer(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureDetached(ctx, host); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var room *model.Room
	for attempt := 0; attempt < maxCodeAttempts && room == nil; attempt++ {
		code := model.RoomID(s.random.String(CodeLength, CodeAlphabet))
		if code == "" {
			continue
		}
		exists, err := s.storage.RoomExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		candidate := &model.Room{
			ID:        code,
			HostID:    hostID,
			MemberIDs: []model.PlayerID{hostID},
			Status:    model.RoomStatusLobby,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.storage.SaveRoom(ctx, candidate, storage.NoVersion)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		room = candidate
	}
	if room == nil {
		return nil, errors.New("failed to allocate a unique room code")
	}

	if err := s.identity.SetCurrentRoom(ctx, hostID, &room.ID); err != nil {
		return nil, err
	}

	s.metrics.RoomsCreated.Inc()
	s.logger.Info("room created",
		slog.String("room_id", string(room.ID)),
		slog.String("host_id", string(hostID)))
	return room, nil
}

// Get returns a room by id
func (s *Service) Get(ctx context.Context, roomID model.RoomID) (*model.Room, error) {
	return s.storage.GetRoom(ctx, roomID)
}

// Result returns the result document of a finished race
func (s *Service) Result(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error) {
	return s.storage.GetResult(ctx, roomID)
}

// Join adds the caller to a room waiting in the lobby
func (s *Service) Join(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error) {
	player, err := s.identity.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureDetached(ctx, player); err != nil {
		return nil, err
	}

	room, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		if room.Status != model.RoomStatusLobby {
			return model.ErrRoomNotJoinable
		}
		if room.HasMember(playerID) {
			return model.ErrAlreadyInRoom
		}
		if room.Size() >= s.cfg.Room.MaxSize {
			return model.ErrRoomFull
		}
		room.AddMember(playerID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.identity.SetCurrentRoom(ctx, playerID, &roomID); err != nil {
		return nil, err
	}

	s.broadcast(ctx, roomID, model.EventNewPlayerJoined, model.PlayerJoinedPayload{
		PlayerID: string(playerID),
		Username: player.DisplayName,
	})

	s.logger.Info("player joined room",
		slog.String("room_id", string(roomID)),
		slog.String("player_id", string(playerID)),
		slog.Int("size", room.Size()))
	return room, nil
}

// Check reports whether a room exists and would accept a join
func (s *Service) Check(ctx context.Context, roomID model.RoomID) (exists bool, joinable bool, err error) {
	room, err := s.storage.GetRoom(ctx, roomID)
	if errors.Is(err, model.ErrRoomNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	joinable = room.Status == model.RoomStatusLobby && room.Size() < s.cfg.Room.MaxSize
	return true, joinable, nil
}

// Lobby returns the composition of a room as seen by one of its members
func (s *Service) Lobby(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.LobbyResponse, error) {
	room, err := s.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(callerID) {
		return nil, model.ErrNotInRoom
	}

	view := &model.LobbyResponse{
		GameID:  string(room.ID),
		HostID:  string(room.HostID),
		Status:  string(room.Status),
		Players: make([]model.LobbyPlayer, 0, room.Size()),
	}
	for _, id := range room.MemberIDs {
		view.Players = append(view.Players, model.LobbyPlayer{
			PlayerID: string(id),
			Username: s.displayName(ctx, id),
			IsHost:   id == room.HostID,
		})
	}
	return view, nil
}

// Rename changes a member's display name and announces it to the room
func (s *Service) Rename(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, name string) (*model.Player, error) {
	room, err := s.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(playerID) {
		return nil, model.ErrNotInRoom
	}

	player, err := s.identity.Rename(ctx, playerID, name)
	if err != nil {
		return nil, err
	}

	s.broadcast(ctx, roomID, model.EventUsernameChanged, model.UsernameChangedPayload{
		PlayerID: string(playerID),
		Username: player.DisplayName,
	})
	return player, nil
}

// Start assigns the shared text and begins the countdown. Only the host may
// start, and only with at least the minimum number of members.
func (s *Service) Start(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.Room, error) {
	current, err := s.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStart(current, callerID); err != nil {
		return nil, err
	}

	text, err := s.passages.Pick(ctx)
	if err != nil {
		return nil, err
	}

	room, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		if err := s.checkStart(room, callerID); err != nil {
			return err
		}
		room.Status = model.RoomStatusStarting
		room.SharedText = text
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(ctx, roomID, model.EventGameStarting, model.GameStartingPayload{
		GameID: string(roomID),
		Text:   text,
	})

	s.logger.Info("race starting",
		slog.String("room_id", string(roomID)),
		slog.Int("members", room.Size()),
		slog.Int("countdown", s.cfg.CountdownSeconds))

	s.countdown(roomID, s.cfg.CountdownSeconds-1)
	return room, nil
}

func (s *Service) checkStart(room *model.Room, callerID model.PlayerID) error {
	if !room.HasMember(callerID) {
		return model.ErrNotInRoom
	}
	if !room.IsHost(callerID) {
		return model.ErrNotHost
	}
	if room.Status != model.RoomStatusLobby {
		return model.ErrInvalidState
	}
	if room.Size() < s.cfg.Room.MinSize {
		return model.ErrInsufficientPlayers
	}
	return nil
}

// countdown broadcasts count now and schedules the next tick. After the
// zero tick the room becomes active one tick later. The countdown is owned
// by this process and always runs to completion.
func (s *Service) countdown(roomID model.RoomID, count int) {
	if count < 0 {
		s.activate(roomID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	s.broadcast(ctx, roomID, model.EventGameCountdown, model.CountdownPayload{Count: count})
	cancel()

	s.clock.AfterFunc(s.cfg.CountdownTick, func() {
		s.countdown(roomID, count-1)
	})
}

func (s *Service) activate(roomID model.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	defer cancel()

	_, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		if room.Status != model.RoomStatusStarting {
			return errNoChange
		}
		room.Status = model.RoomStatusActive
		return nil
	})
	if errors.Is(err, model.ErrRoomNotFound) || errors.Is(err, errNoChange) {
		s.logger.Info("countdown finished for a room that moved on",
			slog.String("room_id", string(roomID)))
		return
	}
	if err != nil {
		s.logger.Error("failed to activate room",
			slog.String("room_id", string(roomID)),
			slog.String("error", err.Error()))
		return
	}

	s.broadcast(ctx, roomID, model.EventGameStarted, model.GameResponse{GameID: string(roomID)})
	s.logger.Info("race started", slog.String("room_id", string(roomID)))
}

// Progress relays a member's typing position to the room
func (s *Service) Progress(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, position int) error {
	room, err := s.storage.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(playerID) {
		return model.ErrNotInRoom
	}
	if room.Status != model.RoomStatusActive {
		return model.ErrInvalidState
	}

	return s.broadcaster.Broadcast(ctx, roomID, model.EventPlayerUpdate, model.PlayerProgressPayload{
		PlayerID: string(playerID),
		Position: position,
	})
}

// Finish records the caller's finish. A repeated finish is ignored. When
// every current member has finished the room completes and results are
// broadcast.
func (s *Service) Finish(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, stats model.FinishMetrics) (*model.Room, error) {
	completed := false
	room, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		completed = false
		if !room.HasMember(playerID) {
			return model.ErrNotInRoom
		}
		if room.Status != model.RoomStatusActive {
			return model.ErrInvalidState
		}
		if room.Result == nil {
			room.Result = model.NewRoomResult(roomID)
		}
		if !room.Result.Record(playerID, stats) {
			return errNoChange
		}
		completed = s.completeIfAllFinished(room)
		return nil
	})
	if errors.Is(err, errNoChange) {
		s.logger.Info("duplicate finish ignored",
			slog.String("room_id", string(roomID)),
			slog.String("player_id", string(playerID)))
		return room, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("player finished",
		slog.String("room_id", string(roomID)),
		slog.String("player_id", string(playerID)),
		slog.Int("rank", room.Result.Entries[playerID].Rank))

	if completed {
		s.publishResults(ctx, room)
	}
	return room, nil
}

// completeIfAllFinished moves an active room to completed once every current
// member has an entry. Entries of departed members stay in the result.
func (s *Service) completeIfAllFinished(room *model.Room) bool {
	if room.Status != model.RoomStatusActive || room.Result == nil || room.IsEmpty() {
		return false
	}
	if !room.Result.AllFinished(room.MemberIDs) {
		return false
	}
	now := s.clock.Now()
	room.Status = model.RoomStatusCompleted
	room.Result.CompletedAt = &now
	return true
}

// publishResults persists the result document, appends each member's
// summary and broadcasts the ranking
func (s *Service) publishResults(ctx context.Context, room *model.Room) {
	result := room.Result
	if err := s.storage.SaveResult(ctx, result); err != nil {
		s.logger.Error("failed to save result",
			slog.String("room_id", string(room.ID)),
			slog.String("error", err.Error()))
	}

	ranked := result.Ranked()
	payload := model.FinishGamePayload{
		GameID:  string(room.ID),
		Results: make([]model.ResultPayload, 0, len(ranked)),
	}
	for _, entry := range ranked {
		payload.Results = append(payload.Results, model.ResultPayload{
			PlayerID: string(entry.PlayerID),
			Username: s.displayName(ctx, entry.PlayerID),
			Rank:     entry.Rank,
			WPM:      entry.WPM,
			Accuracy: entry.Accuracy,
			Time:     entry.Time,
		})
	}

	for _, id := range room.MemberIDs {
		entry := result.Entries[id]
		summary := model.ResultSummary{
			RoomID:      room.ID,
			Rank:        entry.Rank,
			Players:     len(result.Entries),
			WPM:         entry.WPM,
			Accuracy:    entry.Accuracy,
			Time:        entry.Time,
			CompletedAt: *result.CompletedAt,
		}
		if err := s.identity.RecordResult(ctx, id, summary); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
			s.logger.Warn("failed to record result for player",
				slog.String("room_id", string(room.ID)),
				slog.String("player_id", string(id)),
				slog.String("error", err.Error()))
		}
	}

	s.broadcast(ctx, room.ID, model.EventFinishGame, payload)

	s.metrics.RacesCompleted.Inc()
	s.logger.Info("race completed",
		slog.String("room_id", string(room.ID)),
		slog.Int("finishers", len(ranked)))
}

// Restart opens a fresh lobby with the same members and host once a race has
// completed. Members are moved to the new room and the old room is deleted.
func (s *Service) Restart(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.Room, error) {
	var members []model.PlayerID
	var hostID model.PlayerID

	// Claim the old room by emptying it so a concurrent restart finds nothing
	_, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		if !room.HasMember(callerID) {
			return model.ErrNotInRoom
		}
		if !room.IsHost(callerID) {
			return model.ErrNotHost
		}
		if room.Status != model.RoomStatusCompleted {
			return model.ErrInvalidState
		}
		members = slices.Clone(room.MemberIDs)
		hostID = room.HostID
		room.MemberIDs = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var next *model.Room
	for attempt := 0; attempt < maxCodeAttempts && next == nil; attempt++ {
		code := model.RoomID(s.random.String(CodeLength, CodeAlphabet))
		if code == "" || code == roomID {
			continue
		}
		candidate := &model.Room{
			ID:        code,
			HostID:    hostID,
			MemberIDs: members,
			Status:    model.RoomStatusLobby,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.storage.SaveRoom(ctx, candidate, storage.NoVersion)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next = candidate
	}
	if next == nil {
		return nil, errors.New("failed to allocate a unique room code")
	}

	for _, id := range members {
		if err := s.identity.SetCurrentRoom(ctx, id, &next.ID); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
			s.logger.Warn("failed to move player to restarted room",
				slog.String("player_id", string(id)),
				slog.String("room_id", string(next.ID)),
				slog.String("error", err.Error()))
		}
	}

	s.broadcast(ctx, roomID, model.EventGameRestarting, model.GameResponse{GameID: string(next.ID)})

	s.metrics.RoomsCreated.Inc()
	s.logger.Info("room restarted",
		slog.String("old_room_id", string(roomID)),
		slog.String("room_id", string(next.ID)),
		slog.Int("members", next.Size()))
	return next, nil
}

// Leave removes the caller from a room in any state. The next member in join
// order inherits the host role and an empty room is deleted. During a race
// the completion check is re-run against the remaining members.
func (s *Service) Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	completed := false
	room, err := s.mutate(ctx, roomID, func(room *model.Room) error {
		completed = false
		if !room.RemoveMember(playerID) {
			return model.ErrNotInRoom
		}
		completed = s.completeIfAllFinished(room)
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.identity.SetCurrentRoom(ctx, playerID, nil); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
		return err
	}

	if room.IsEmpty() && room.Result != nil {
		// Keep what was recorded of an abandoned race
		if err := s.storage.SaveResult(ctx, room.Result); err != nil {
			s.logger.Warn("failed to save abandoned result",
				slog.String("room_id", string(roomID)),
				slog.String("error", err.Error()))
		}
	}

	s.broadcast(ctx, roomID, model.EventPlayerLeft, model.PlayerLeftPayload{
		PlayerID: string(playerID),
		HostID:   string(room.HostID),
	})

	s.logger.Info("player left room",
		slog.String("room_id", string(roomID)),
		slog.String("player_id", string(playerID)),
		slog.String("host_id", string(room.HostID)),
		slog.Int("size", room.Size()))

	if completed {
		s.publishResults(ctx, room)
	}
	return nil
}

func (s *Service) displayName(ctx context.Context, playerID model.PlayerID) string {
	player, err := s.identity.GetPlayer(ctx, playerID)
	if err != nil {
		return ""
	}
	return player.DisplayName
}

// broadcast publishes a room event. Bus failures are logged, not returned:
// the command itself already took effect.
func (s *Service) broadcast(ctx context.Context, roomID model.RoomID, event model.EventType, payload any) {
	if err := s.broadcaster.Broadcast(ctx, roomID, event, payload); err != nil {
		s.logger.Error("failed to broadcast room event",
			slog.String("room_id", string(roomID)),
			slog.String("event", string(event)),
			slog.String("error", err.Error()))
	}
}

// ServiceInterface is the room service as consumed by the gateway and API
type ServiceInterface interface {
	Create(ctx context.Context, hostID model.PlayerID) (*model.Room, error)
	Get(ctx context.Context, roomID model.RoomID) (*model.Room, error)
	Result(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error)
	Join(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error)
	Check(ctx context.Context, roomID model.RoomID) (bool, bool, error)
	Lobby(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.LobbyResponse, error)
	Rename(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, name string) (*model.Player, error)
	Start(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.Room, error)
	Progress(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, position int) error
	Finish(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, stats model.FinishMetrics) (*model.Room, error)
	Restart(ctx context.Context, roomID model.RoomID, callerID model.PlayerID) (*model.Room, error)
	Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
}

var _ ServiceInterface = (*Service)(nil)
