package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Wallet is the cached balance projection for one owner. The ledger is the
// source of truth; balance must always equal the sum of the owner's entries.
type Wallet struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"` // minor units
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("metadata: unsupported scan type")
	}
	return json.Unmarshal(b, m)
}
