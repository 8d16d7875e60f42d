package models

import "time"

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusRejected   PayoutStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusRejected
}

// PayoutRequest is a withdrawal. The amount is held (debited) the moment the
// request is accepted; completion only records that the off-platform transfer
// happened, and rejection refunds the hold.
type PayoutRequest struct {
	ID             string       `json:"id" db:"id"`
	OwnerID        string       `json:"owner_id" db:"owner_id"`
	Amount         int64        `json:"amount" db:"amount"`
	Status         PayoutStatus `json:"status" db:"status"`
	PaymentDetails Metadata     `json:"payment_details,omitempty" db:"payment_details"`
	AdminNotes     string       `json:"admin_notes,omitempty" db:"admin_notes"`
	ProofReference string       `json:"proof_reference,omitempty" db:"proof_reference"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
}

type PayoutRequestInput struct {
	Amount         int64    `json:"amount" validate:"required,gt=0"`
	PaymentDetails Metadata `json:"payment_details" validate:"required"`
}
