package models

import (
	"time"
)

// EntryKind classifies a ledger entry. The sign of the amount is fixed per
// kind: deposits, refunds and prizes credit; entry fees and withdrawals debit.
type EntryKind string

const (
	EntryDeposit          EntryKind = "deposit"
	EntryFee              EntryKind = "entry_fee"
	EntryFeeRefund        EntryKind = "entry_fee_refund"
	EntryPrize            EntryKind = "prize"
	EntryPlatformFee      EntryKind = "platform_fee"
	EntryWithdrawal       EntryKind = "withdrawal"
	EntryWithdrawalRefund EntryKind = "withdrawal_refund"
)

// LedgerEntry is an immutable, append-only record of one balance change.
// BalanceAfter snapshots the owner's running balance so the full history can
// be replayed and audited without recomputation.
type LedgerEntry struct {
	ID            int64     `json:"id" db:"id"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Kind          EntryKind `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"` // signed, minor units
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	ReferenceID   string    `json:"reference_id" db:"reference_id"`
	ReferenceKind string    `json:"reference_kind" db:"reference_kind"`
	Description   string    `json:"description" db:"description"`
	Metadata      Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
