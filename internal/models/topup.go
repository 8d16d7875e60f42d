package models

import "time"

type TopupStatus string

const (
	TopupStatusPending   TopupStatus = "pending"
	TopupStatusConfirmed TopupStatus = "confirmed"
	TopupStatusFailed    TopupStatus = "failed"
)

// TopupIntent records an outbound checkout before the caller is redirected to
// the payment gateway. It transitions exactly once to confirmed or failed;
// confirmed implies the deposit was credited to the ledger.
type TopupIntent struct {
	TxRef            string      `json:"tx_ref" db:"tx_ref"`
	OwnerID          string      `json:"owner_id" db:"owner_id"`
	Amount           int64       `json:"amount" db:"amount"`
	Status           TopupStatus `json:"status" db:"status"`
	GatewayOrderCode string      `json:"gateway_order_code,omitempty" db:"gateway_order_code"`
	ConfirmedAt      *time.Time  `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}
