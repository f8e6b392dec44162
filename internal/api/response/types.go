package response

import (
	"time"

	"github.com/mcoot/typerace/internal/model"
)

// Health is the body of the health endpoint
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Game describes a game code as seen from outside the room
type Game struct {
	GameID   string `json:"gameId"`
	Exists   bool   `json:"exists"`
	Joinable bool   `json:"joinable"`
	Status   string `json:"status,omitempty"`
	Players  int    `json:"players"`
}

// GameFromModel converts a room into a Game response
func GameFromModel(room *model.Room, joinable bool) Game {
	return Game{
		GameID:   string(room.ID),
		Exists:   true,
		Joinable: joinable,
		Status:   string(room.Status),
		Players:  room.Size(),
	}
}

// Results is the ranked outcome of a finished race
type Results struct {
	GameID      string                `json:"gameId"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	Results     []model.ResultPayload `json:"results"`
}

// ResultsFromModel converts a stored result into a Results response
func ResultsFromModel(result *model.RoomResult) Results {
	ranked := result.Ranked()
	out := Results{
		GameID:      string(result.RoomID),
		CompletedAt: result.CompletedAt,
		Results:     make([]model.ResultPayload, 0, len(ranked)),
	}
	for _, entry := range ranked {
		out.Results = append(out.Results, model.ResultPayload{
			PlayerID: string(entry.PlayerID),
			Rank:     entry.Rank,
			WPM:      entry.WPM,
			Accuracy: entry.Accuracy,
			Time:     entry.Time,
		})
	}
	return out
}
