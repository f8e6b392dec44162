package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcoot/typerace/internal/model"
)

// handlerFunc runs one client command. A nil result with a nil error sends no
// reply; otherwise the result is echoed back under the command's event name.
type handlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) (any, error)

func (g *Gateway) routes() map[model.EventType]handlerFunc {
	return map[model.EventType]handlerFunc{
		model.EventConnect:        g.handleConnect,
		model.EventHealthCheck:    g.handleHealthCheck,
		model.EventCheckGameID:    g.handleCheckGameID,
		model.EventCreateGame:     g.handleCreateGame,
		model.EventJoinGame:       g.handleJoinGame,
		model.EventGetLobby:       g.handleGetLobby,
		model.EventChangeUsername: g.handleChangeUsername,
		model.EventStartGame:      g.handleStartGame,
		model.EventPlayerUpdate:   g.handlePlayerUpdate,
		model.EventFinishGame:     g.handleFinishGame,
		model.EventRestartGame:    g.handleRestartGame,
		model.EventLeaveGame:      g.handleLeaveGame,
	}
}

// dispatch decodes one frame and runs its handler
func (g *Gateway) dispatch(c *Connection, frame []byte) {
	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		g.rejectInvalid(c)
		return
	}

	handler, ok := g.handlers[env.Event]
	if !ok {
		g.metrics.ObserveCommand("unsupported", 0)
		g.replyError(c, env.Event, fmt.Errorf("%w: %s", model.ErrUnsupportedEvent, env.Event))
		return
	}

	ctx, cancel := context.WithTimeout(g.base, g.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	result, err := handler(ctx, c, env.Payload)
	g.metrics.ObserveCommand(string(env.Event), time.Since(start))

	if err != nil {
		g.replyError(c, env.Event, err)
		return
	}
	if result != nil {
		c.reply(env.Event, result)
	}
}

// rejectInvalid answers a frame that is not a decodable event
func (g *Gateway) rejectInvalid(c *Connection) {
	g.metrics.ObserveCommand("invalid", 0)
	c.reply(model.EventError, model.ErrorPayload{Message: MessageInvalid})
}

func (g *Gateway) replyError(c *Connection, event model.EventType, err error) {
	message, internal := clientMessage(err)
	state := c.State()
	if internal {
		c.logger.Error("command failed",
			slog.String("event", string(event)),
			slog.String("player_id", string(state.PlayerID)),
			slog.String("room_id", string(state.RoomID)),
			slog.String("error", err.Error()))
	} else {
		c.logger.Debug("command rejected",
			slog.String("event", string(event)),
			slog.String("player_id", string(state.PlayerID)),
			slog.String("error", err.Error()))
	}
	c.reply(model.EventError, model.ErrorPayload{Message: message, Event: string(event)})
}

// decode unmarshals an optional payload into dst
func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	return nil
}

// gameID reads and normalises a room code from a payload
func gameID(payload json.RawMessage) (model.RoomID, error) {
	var req model.GameRequest
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	id := strings.ToUpper(strings.TrimSpace(req.GameID))
	if id == "" {
		return "", fmt.Errorf("%w: missing gameId", model.ErrMalformedMessage)
	}
	return model.RoomID(id), nil
}

// requirePlayer returns the bound player
func requirePlayer(c *Connection) (model.PlayerID, error) {
	state := c.State()
	if state.PlayerID == "" {
		return "", model.ErrNotBound
	}
	return state.PlayerID, nil
}

// requireRoom returns the bound player and room
func requireRoom(c *Connection) (ConnState, error) {
	state := c.State()
	if state.PlayerID == "" || state.RoomID == "" {
		return ConnState{}, model.ErrNotBound
	}
	return state, nil
}

func (g *Gateway) handleConnect(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
	var req model.ConnectRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	if previous := c.State().PlayerID; previous != "" {
		// Reconnecting on the same socket releases the old binding first
		g.Unbind(c)
		if err := g.identity.Disconnect(ctx, c.id); err != nil {
			return nil, err
		}
	}

	playerID, resumed, err := g.identity.Connect(ctx, c.id, model.PlayerID(strings.TrimSpace(req.PlayerID)))
	if err != nil {
		return nil, err
	}
	g.Bind(c, playerID)

	resp := model.ConnectResponse{PlayerID: string(playerID)}
	if resumed != nil {
		if err := g.BindRoom(ctx, c, *resumed); err != nil {
			return nil, err
		}
		existing := string(*resumed)
		resp.ExistingGameID = &existing
	}
	return resp, nil
}

func (g *Gateway) handleHealthCheck(_ context.Context, _ *Connection, _ json.RawMessage) (any, error) {
	return model.HealthPayload{Status: "ok"}, nil
}

func (g *Gateway) handleCheckGameID(ctx context.Context, _ *Connection, payload json.RawMessage) (any, error) {
	roomID, err := gameID(payload)
	if err != nil {
		return nil, err
	}
	exists, joinable, err := g.rooms.Check(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return model.CheckGameResponse{GameID: string(roomID), Exists: exists, Joinable: joinable}, nil
}

func (g *Gateway) handleCreateGame(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	playerID, err := requirePlayer(c)
	if err != nil {
		return nil, err
	}
	room, err := g.rooms.Create(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := g.BindRoom(ctx, c, room.ID); err != nil {
		return nil, err
	}
	return model.GameResponse{GameID: string(room.ID)}, nil
}

func (g *Gateway) handleJoinGame(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
	playerID, err := requirePlayer(c)
	if err != nil {
		return nil, err
	}
	roomID, err := gameID(payload)
	if err != nil {
		return nil, err
	}
	room, err := g.rooms.Join(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}
	if err := g.BindRoom(ctx, c, room.ID); err != nil {
		return nil, err
	}
	return model.GameResponse{GameID: string(room.ID)}, nil
}

func (g *Gateway) handleGetLobby(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	return g.rooms.Lobby(ctx, state.RoomID, state.PlayerID)
}

func (g *Gateway) handleChangeUsername(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
	playerID, err := requirePlayer(c)
	if err != nil {
		return nil, err
	}
	var req model.ChangeUsernameRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	var resp model.UsernameChangedPayload
	if roomID := c.State().RoomID; roomID != "" {
		player, err := g.rooms.Rename(ctx, roomID, playerID, req.Username)
		if err != nil {
			return nil, err
		}
		resp = model.UsernameChangedPayload{PlayerID: string(player.ID), Username: player.DisplayName}
	} else {
		player, err := g.identity.Rename(ctx, playerID, req.Username)
		if err != nil {
			return nil, err
		}
		resp = model.UsernameChangedPayload{PlayerID: string(player.ID), Username: player.DisplayName}
	}
	return resp, nil
}

func (g *Gateway) handleStartGame(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	room, err := g.rooms.Start(ctx, state.RoomID, state.PlayerID)
	if err != nil {
		return nil, err
	}
	return model.GameResponse{GameID: string(room.ID)}, nil
}

func (g *Gateway) handlePlayerUpdate(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	var req model.PlayerUpdateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Position < 0 {
		return nil, fmt.Errorf("%w: negative position", model.ErrMalformedMessage)
	}
	return nil, g.rooms.Progress(ctx, state.RoomID, state.PlayerID, req.Position)
}

func (g *Gateway) handleFinishGame(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	var req model.FinishGameRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	room, err := g.rooms.Finish(ctx, state.RoomID, state.PlayerID, model.FinishMetrics{
		WPM:      req.WPM,
		Accuracy: req.Accuracy,
		Time:     req.Time,
	})
	if err != nil {
		return nil, err
	}
	return model.GameResponse{GameID: string(room.ID)}, nil
}

func (g *Gateway) handleRestartGame(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	room, err := g.rooms.Restart(ctx, state.RoomID, state.PlayerID)
	if err != nil {
		return nil, err
	}
	g.moveRoom(c, state.RoomID, room.ID)
	return model.GameResponse{GameID: string(room.ID)}, nil
}

func (g *Gateway) handleLeaveGame(ctx context.Context, c *Connection, _ json.RawMessage) (any, error) {
	state, err := requireRoom(c)
	if err != nil {
		return nil, err
	}
	err = g.rooms.Leave(ctx, state.RoomID, state.PlayerID)
	if err != nil && !errors.Is(err, model.ErrNotInRoom) && !errors.Is(err, model.ErrRoomNotFound) {
		return nil, err
	}
	// The room may already be gone; the connection is released either way
	g.Unbind(c)
	return model.GameResponse{GameID: string(state.RoomID)}, nil
}
