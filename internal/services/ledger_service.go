package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/arenapay/backend/internal/models"
)

// LedgerService is the only sanctioned way any component changes a balance.
// Each ApplyEntry is a single atomic read-check-write per owner: the wallet
// row is locked FOR UPDATE, so concurrent calls for the same owner serialize
// at the storage layer while different owners proceed independently.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// ApplyEntry appends one ledger entry and updates the cached wallet balance
// in its own transaction. Debits that would push the balance negative fail
// with *InsufficientFundsError and leave no trace.
func (s *LedgerService) ApplyEntry(ctx context.Context, ownerID string, amount int64, kind models.EntryKind, refID, refKind, description string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ApplyEntryTx(ctx, tx, ownerID, amount, kind, refID, refKind, description, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyEntryTx is ApplyEntry composed into a caller-owned transaction, for
// operations that must couple a balance change with other row updates
// (settlement, payout hold). The caller commits or rolls back.
func (s *LedgerService) ApplyEntryTx(ctx context.Context, tx *sql.Tx, ownerID string, amount int64, kind models.EntryKind, refID, refKind, description string, meta models.Metadata) (*models.LedgerEntry, error) {
	wallet, err := s.lockWallet(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	newBalance := wallet.Balance + amount
	if amount < 0 && newBalance < 0 {
		return nil, &InsufficientFundsError{OwnerID: ownerID, Balance: wallet.Balance, Amount: amount}
	}

	entry := &models.LedgerEntry{
		OwnerID:       ownerID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  newBalance,
		ReferenceID:   refID,
		ReferenceKind: refKind,
		Description:   description,
		Metadata:      meta,
		CreatedAt:     time.Now(),
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (owner_id, kind, amount, balance_after, reference_id, reference_kind, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.OwnerID, entry.Kind, entry.Amount, entry.BalanceAfter,
		entry.ReferenceID, entry.ReferenceKind, entry.Description, entry.Metadata, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := s.updateWalletBalance(ctx, tx, ownerID, newBalance, wallet.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

// Balance returns the cached wallet balance, zero for owners never seen.
func (s *LedgerService) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// Entries returns the owner's ledger history, newest first.
func (s *LedgerService) Entries(ctx context.Context, ownerID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, amount, balance_after, reference_id, reference_kind, description, metadata, created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Kind, &e.Amount, &e.BalanceAfter,
			&e.ReferenceID, &e.ReferenceKind, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// lockWallet reads the wallet row FOR UPDATE, creating it at zero balance on
// first touch. The insert can race a concurrent first deposit, hence the
// ON CONFLICT DO NOTHING followed by a second locking read.
func (s *LedgerService) lockWallet(ctx context.Context, tx *sql.Tx, ownerID string) (*models.Wallet, error) {
	wallet, err := s.selectWalletForUpdate(ctx, tx, ownerID)
	if err == nil {
		return wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (owner_id) DO NOTHING`, ownerID, time.Now())
	if err != nil {
		return nil, err
	}

	return s.selectWalletForUpdate(ctx, tx, ownerID)
}

func (s *LedgerService) selectWalletForUpdate(ctx context.Context, tx *sql.Tx, ownerID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT owner_id, balance, version, updated_at
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE`, ownerID).Scan(&wallet.OwnerID, &wallet.Balance, &wallet.Version, &wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *LedgerService) updateWalletBalance(ctx context.Context, tx *sql.Tx, ownerID string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE owner_id = $3 AND version = $4`,
		newBalance, time.Now(), ownerID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Cannot happen while the row lock is held; kept as a tripwire.
		return fmt.Errorf("optimistic lock failed for wallet %s", ownerID)
	}
	return nil
}

// GetWalletBalance returns the caller's wallet balance
// @Summary Get wallet balance
// @Description Retrieve the authenticated user's custodial balance
// @Tags wallet
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /wallet [get]
func (s *LedgerService) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Balance(r.Context(), userID)
	if err != nil {
		log.Printf("[LEDGER] Balance lookup failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"owner_id": userID,
		"balance":  balance,
	})
}

// ListWalletEntries returns the caller's ledger history
// @Summary List ledger entries
// @Description Retrieve the authenticated user's ledger history, newest first
// @Tags wallet
// @Produce json
// @Param limit query int false "Number of entries to return (default: 50, max: 200)"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /wallet/entries [get]
func (s *LedgerService) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 && val <= 200 {
			limit = val
		}
	}

	entries, err := s.Entries(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[LEDGER] Entry listing failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
