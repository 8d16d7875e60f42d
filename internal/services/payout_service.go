package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/arenapay/backend/internal/models"
)

// payoutTransitions holds the legal admin transitions of the payout state
// machine. Terminal states admit nothing.
var payoutTransitions = map[models.PayoutStatus][]models.PayoutStatus{
	models.PayoutStatusPending:    {models.PayoutStatusApproved, models.PayoutStatusRejected},
	models.PayoutStatusApproved:   {models.PayoutStatusProcessing, models.PayoutStatusRejected},
	models.PayoutStatusProcessing: {models.PayoutStatusCompleted, models.PayoutStatusRejected},
}

// PayoutService runs the withdrawal queue. Funds are held the moment a
// request is accepted; rejection refunds the hold, completion only records
// that the off-platform transfer happened.
type PayoutService struct {
	db          *sql.DB
	ledger      *LedgerService
	broadcaster Broadcaster
	validator   *ValidationHelper
}

func NewPayoutService(db *sql.DB, ledger *LedgerService, broadcaster Broadcaster) *PayoutService {
	return &PayoutService{
		db:          db,
		ledger:      ledger,
		broadcaster: broadcaster,
		validator:   NewValidationHelper(),
	}
}

// Request opens a withdrawal and debits the amount immediately. One
// outstanding request per owner: the duplicate check runs after the wallet
// row lock is taken, so two concurrent requests serialize and the second one
// sees the first one's row.
func (s *PayoutService) Request(ctx context.Context, ownerID string, amount int64, details models.Metadata) (*models.PayoutRequest, error) {
	request := &models.PayoutRequest{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Amount:         amount,
		Status:         models.PayoutStatusPending,
		PaymentDetails: details,
		CreatedAt:      time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = s.ledger.ApplyEntryTx(ctx, tx, ownerID, -amount, models.EntryWithdrawal,
		request.ID, "payout", "Withdrawal hold", nil)
	if err != nil {
		return nil, err
	}

	var outstanding bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payout_requests
			WHERE owner_id = $1 AND status IN ($2, $3, $4)
		)`, ownerID, models.PayoutStatusPending, models.PayoutStatusApproved, models.PayoutStatusProcessing).Scan(&outstanding)
	if err != nil {
		return nil, err
	}
	if outstanding {
		return nil, fmt.Errorf("owner %s already has an outstanding payout request: %w", ownerID, ErrDuplicateOperation)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_requests (id, owner_id, amount, status, payment_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		request.ID, request.OwnerID, request.Amount, request.Status, request.PaymentDetails, request.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.broadcaster.Publish(ctx, request.ID, Event{
		Type:      "payout.pending",
		Reference: request.ID,
		Data:      map[string]any{"owner_id": ownerID, "amount": amount},
	})
	log.Printf("[PAYOUT] Request %s opened for %s, held %d", request.ID, ownerID, amount)
	return request, nil
}

// AdminTransition moves a request through the queue. Rejection from any
// non-terminal state refunds the held amount in the same transaction.
func (s *PayoutService) AdminTransition(ctx context.Context, requestID string, newStatus models.PayoutStatus, notes, proofRef string, isAdmin bool) (*models.PayoutRequest, error) {
	if !isAdmin {
		return nil, fmt.Errorf("payout transitions are admin-only: %w", ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var request models.PayoutRequest
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_id, amount, status, payment_details, COALESCE(admin_notes, ''), COALESCE(proof_reference, ''), created_at, processed_at
		FROM payout_requests
		WHERE id = $1
		FOR UPDATE`, requestID).Scan(
		&request.ID, &request.OwnerID, &request.Amount, &request.Status,
		&request.PaymentDetails, &request.AdminNotes, &request.ProofReference,
		&request.CreatedAt, &request.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payout request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(request.Status, newStatus) {
		return nil, fmt.Errorf("payout %s cannot go %s -> %s: %w",
			requestID, request.Status, newStatus, ErrInvalidStateTransition)
	}

	if newStatus == models.PayoutStatusRejected {
		_, err = s.ledger.ApplyEntryTx(ctx, tx, request.OwnerID, request.Amount, models.EntryWithdrawalRefund,
			request.ID, "payout", "Withdrawal hold refund (rejected)", nil)
		if err != nil {
			return nil, fmt.Errorf("hold refund failed: %w", err)
		}
	}

	request.Status = newStatus
	if notes != "" {
		request.AdminNotes = notes
	}
	if proofRef != "" {
		request.ProofReference = proofRef
	}
	if newStatus.Terminal() {
		now := time.Now()
		request.ProcessedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payout_requests
		SET status = $1, admin_notes = $2, proof_reference = $3, processed_at = $4
		WHERE id = $5`,
		request.Status, request.AdminNotes, request.ProofReference, request.ProcessedAt, requestID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.broadcaster.Publish(ctx, request.ID, Event{
		Type:      "payout." + string(newStatus),
		Reference: request.ID,
		Data:      map[string]any{"owner_id": request.OwnerID, "amount": request.Amount, "status": newStatus},
	})
	log.Printf("[PAYOUT] Request %s -> %s", requestID, newStatus)
	return &request, nil
}

// ListForOwner returns the owner's payout requests, newest first.
func (s *PayoutService) ListForOwner(ctx context.Context, ownerID string, limit int) ([]models.PayoutRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, amount, status, payment_details, COALESCE(admin_notes, ''), COALESCE(proof_reference, ''), created_at, processed_at
		FROM payout_requests
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.PayoutRequest
	for rows.Next() {
		var p models.PayoutRequest
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Amount, &p.Status, &p.PaymentDetails,
			&p.AdminNotes, &p.ProofReference, &p.CreatedAt, &p.ProcessedAt); err != nil {
			return nil, err
		}
		requests = append(requests, p)
	}
	return requests, rows.Err()
}

func transitionAllowed(from, to models.PayoutStatus) bool {
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
