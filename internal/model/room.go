package model

import (
	"slices"
	"time"
)

// RoomID is the invite code of a room; it doubles as the event bus channel key
type RoomID string

// RoomStatus represents the lifecycle phase of a room
type RoomStatus string

const (
	RoomStatusLobby     RoomStatus = "lobby"     // Waiting for members
	RoomStatusStarting  RoomStatus = "starting"  // Countdown running
	RoomStatusActive    RoomStatus = "active"    // Race in progress
	RoomStatusCompleted RoomStatus = "completed" // Every member finished
)

// RoomConfig holds the capacity bounds applied to rooms
type RoomConfig struct {
	MaxSize int
	MinSize int
}

// DefaultRoomConfig returns the default room capacity bounds
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxSize: 5,
		MinSize: 2,
	}
}

// Room is one instance of the race. A room with no members is deleted,
// never persisted empty.
type Room struct {
	ID         RoomID
	HostID     PlayerID
	MemberIDs  []PlayerID // Join order; the host is promoted from the front
	Status     RoomStatus
	SharedText string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Result collects finish entries while the race runs; nil until the first finish
	Result *RoomResult

	// Version is bumped on every successful save and used for compare-and-swap
	Version int64
}

// HasMember returns true if the player is a member of the room
func (r *Room) HasMember(playerID PlayerID) bool {
	return slices.Contains(r.MemberIDs, playerID)
}

// IsHost returns true if the player is the current host
func (r *Room) IsHost(playerID PlayerID) bool {
	return len(r.MemberIDs) > 0 && r.HostID == playerID
}

// Size returns the number of members
func (r *Room) Size() int {
	return len(r.MemberIDs)
}

// AddMember appends a player to the member list
func (r *Room) AddMember(playerID PlayerID) {
	if r.HasMember(playerID) {
		return
	}
	r.MemberIDs = append(r.MemberIDs, playerID)
	if r.HostID == "" {
		r.HostID = playerID
	}
}

// RemoveMember removes a player and promotes the next member in join order
// if the host left. Returns false if the player was not a member.
func (r *Room) RemoveMember(playerID PlayerID) bool {
	idx := slices.Index(r.MemberIDs, playerID)
	if idx < 0 {
		return false
	}
	r.MemberIDs = slices.Delete(r.MemberIDs, idx, idx+1)

	switch {
	case len(r.MemberIDs) == 0:
		r.HostID = ""
	case r.HostID == playerID:
		r.HostID = r.MemberIDs[0]
	}
	return true
}

// IsEmpty returns true if the room has no members left
func (r *Room) IsEmpty() bool {
	return len(r.MemberIDs) == 0
}

// Clone returns a deep copy of the room
func (r *Room) Clone() *Room {
	c := *r
	c.MemberIDs = slices.Clone(r.MemberIDs)
	if r.Result != nil {
		c.Result = r.Result.Clone()
	}
	return &c
}
