package model

import (
	"sort"
	"time"
)

// FinishMetrics are the client-computed metrics submitted on finish
type FinishMetrics struct {
	WPM      float64
	Accuracy float64 // Percentage, 0-100
	Time     float64 // Elapsed seconds
}

// ResultEntry is one player's finish record
type ResultEntry struct {
	PlayerID PlayerID
	Rank     int // 1-based, assigned in finish order
	FinishMetrics
}

// RoomResult is the result document of a race. It outlives its room.
type RoomResult struct {
	RoomID      RoomID
	Entries     map[PlayerID]ResultEntry
	CompletedAt *time.Time
}

// NewRoomResult creates an empty result document for a room
func NewRoomResult(roomID RoomID) *RoomResult {
	return &RoomResult{
		RoomID:  roomID,
		Entries: make(map[PlayerID]ResultEntry),
	}
}

// HasEntry returns true if the player already finished
func (r *RoomResult) HasEntry(playerID PlayerID) bool {
	_, ok := r.Entries[playerID]
	return ok
}

// Record appends a finish entry with the next rank.
// Returns false if the player already has an entry.
func (r *RoomResult) Record(playerID PlayerID, metrics FinishMetrics) bool {
	if r.HasEntry(playerID) {
		return false
	}
	r.Entries[playerID] = ResultEntry{
		PlayerID:      playerID,
		Rank:          len(r.Entries) + 1,
		FinishMetrics: metrics,
	}
	return true
}

// AllFinished returns true if every given member has a finish entry
func (r *RoomResult) AllFinished(members []PlayerID) bool {
	if len(members) == 0 {
		return false
	}
	for _, id := range members {
		if !r.HasEntry(id) {
			return false
		}
	}
	return true
}

// Ranked returns the entries sorted by rank
func (r *RoomResult) Ranked() []ResultEntry {
	entries := make([]ResultEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Rank < entries[j].Rank
	})
	return entries
}

// ResultSummary is a lightweight record of a finished race kept on the player
type ResultSummary struct {
	RoomID      RoomID
	Rank        int
	Players     int
	WPM         float64
	Accuracy    float64
	Time        float64
	CompletedAt time.Time
}

// Clone returns a deep copy of the result document
func (r *RoomResult) Clone() *RoomResult {
	c := *r
	c.Entries = make(map[PlayerID]ResultEntry, len(r.Entries))
	for id, e := range r.Entries {
		c.Entries[id] = e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
