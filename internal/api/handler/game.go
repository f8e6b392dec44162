package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/model"
)

// Rooms is the read side of the room service
type Rooms interface {
	Get(ctx context.Context, roomID model.RoomID) (*model.Room, error)
	Check(ctx context.Context, roomID model.RoomID) (bool, bool, error)
	Result(ctx context.Context, roomID model.RoomID) (*model.RoomResult, error)
}

// GameHandler serves read-only game lookups
type GameHandler struct {
	rooms  Rooms
	logger *slog.Logger
}

// NewGameHandler creates a new game handler
func NewGameHandler(rooms Rooms, logger *slog.Logger) *GameHandler {
	return &GameHandler{
		rooms:  rooms,
		logger: logger,
	}
}

func gameIDFromRequest(r *http.Request) (model.RoomID, error) {
	id := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["id"]))
	if id == "" {
		return "", apierr.NewInvalidRequestError("game id is required")
	}
	return model.RoomID(id), nil
}

// Get handles GET /api/v1/games/{id}, the HTTP form of check_game_id.
// An unknown code is not an error: it reports exists=false.
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID, err := gameIDFromRequest(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	exists, joinable, err := h.rooms.Check(r.Context(), roomID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exists {
		response.JSON(w, http.StatusOK, response.Game{GameID: string(roomID)})
		return
	}

	room, err := h.rooms.Get(r.Context(), roomID)
	if errors.Is(err, model.ErrRoomNotFound) {
		// Deleted between the two reads
		response.JSON(w, http.StatusOK, response.Game{GameID: string(roomID)})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.GameFromModel(room, joinable))
}

// Results handles GET /api/v1/games/{id}/results
func (h *GameHandler) Results(w http.ResponseWriter, r *http.Request) {
	roomID, err := gameIDFromRequest(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	result, err := h.rooms.Result(r.Context(), roomID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ResultsFromModel(result))
}

func (h *GameHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apierr.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("game lookup failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	apierr.WriteError(w, err)
}
