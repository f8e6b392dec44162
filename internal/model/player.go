package model

import "time"

// PlayerID uniquely identifies a player across reconnects
type PlayerID string

// Presence is the online/offline status of a player
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// Player represents a race participant
type Player struct {
	ID            PlayerID
	DisplayName   string
	CurrentRoomID *RoomID // nil when not attached to a room
	Presence      Presence
	LastSeenAt    time.Time
	PastResults   []ResultSummary // Oldest first, capped by the result log size
	CreatedAt     time.Time
}

// InRoom returns true if the player is attached to a room
func (p *Player) InRoom() bool {
	return p.CurrentRoomID != nil && *p.CurrentRoomID != ""
}

// AppendResult adds a finished-room summary, keeping at most limit entries
func (p *Player) AppendResult(summary ResultSummary, limit int) {
	p.PastResults = append(p.PastResults, summary)
	if limit > 0 && len(p.PastResults) > limit {
		p.PastResults = p.PastResults[len(p.PastResults)-limit:]
	}
}

// Clone returns a deep copy of the player
func (p *Player) Clone() *Player {
	c := *p
	if p.CurrentRoomID != nil {
		roomID := *p.CurrentRoomID
		c.CurrentRoomID = &roomID
	}
	c.PastResults = append([]ResultSummary(nil), p.PastResults...)
	return &c
}
