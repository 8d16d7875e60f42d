package models

import "time"

type RoomStatus string

const (
	RoomStatusOpen      RoomStatus = "open"
	RoomStatusOngoing   RoomStatus = "ongoing"
	RoomStatusCompleted RoomStatus = "completed"
	RoomStatusCancelled RoomStatus = "cancelled"
)

type ParticipantStatus string

const (
	ParticipantActive       ParticipantStatus = "active"
	ParticipantLeft         ParticipantStatus = "left"
	ParticipantDisqualified ParticipantStatus = "disqualified"
)

// Room is a reusable table that can host successive match rounds among the
// players who joined it. EntryFee is the stake a round will charge; a Match
// snapshots it at round start so later fee edits cannot change a running round.
type Room struct {
	ID             string     `json:"id" db:"id"`
	OwnerID        string     `json:"owner_id" db:"owner_id"`
	EntryFee       int64      `json:"entry_fee" db:"entry_fee"`
	MaxPlayers     int        `json:"max_players" db:"max_players"`
	CurrentPlayers int        `json:"current_players" db:"current_players"`
	Status         RoomStatus `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// RoomParticipant is membership in the room, independent of any match round.
type RoomParticipant struct {
	RoomID   string            `json:"room_id" db:"room_id"`
	OwnerID  string            `json:"owner_id" db:"owner_id"`
	Status   ParticipantStatus `json:"status" db:"status"`
	JoinedAt time.Time         `json:"joined_at" db:"joined_at"`
}

type CreateRoomRequest struct {
	EntryFee   int64 `json:"entry_fee" validate:"required,gt=0"`
	MaxPlayers int   `json:"max_players" validate:"required,min=2,max=32"`
}
