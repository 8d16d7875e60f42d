package models

import "time"

type MatchStatus string

const (
	MatchStatusOngoing   MatchStatus = "ongoing"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match is one played round of a room. Immutable once completed.
type Match struct {
	ID             string      `json:"id" db:"id"`
	RoomID         string      `json:"room_id" db:"room_id"`
	RoundNumber    int         `json:"round_number" db:"round_number"`
	EntryFee       int64       `json:"entry_fee" db:"entry_fee"`
	Status         MatchStatus `json:"status" db:"status"`
	WinnerID       *string     `json:"winner_id,omitempty" db:"winner_id"`
	ProofReference string      `json:"proof_reference,omitempty" db:"proof_reference"`
	StartedAt      time.Time   `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// MatchParticipant snapshots an active room participant at round start.
// Fee liability for the round is scoped to this set.
type MatchParticipant struct {
	MatchID string            `json:"match_id" db:"match_id"`
	OwnerID string            `json:"owner_id" db:"owner_id"`
	Status  ParticipantStatus `json:"status" db:"status"`
}
