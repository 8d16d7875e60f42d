package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/arenapay/backend/internal/models"
)

var payoutColumns = []string{
	"id", "owner_id", "amount", "status", "payment_details",
	"admin_notes", "proof_reference", "created_at", "processed_at",
}

func newPayoutService(t *testing.T) (*PayoutService, sqlmock.Sqlmock, *stubBroadcaster) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broadcaster := &stubBroadcaster{}
	return NewPayoutService(db, NewLedgerService(db), broadcaster), mock, broadcaster
}

func TestPayoutService_Request(t *testing.T) {
	ctx := context.Background()
	details := models.Metadata{"bank": "First National", "account": "12345678"}

	t.Run("holds the funds and opens the request", func(t *testing.T) {
		service, mock, broadcaster := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows(walletColumns).
				AddRow("player1", 10000, 1, time.Now()))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("player1", models.EntryWithdrawal, int64(-4000), int64(6000),
				sqlmock.AnyArg(), "payout", "Withdrawal hold", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1").
			WithArgs(int64(6000), sqlmock.AnyArg(), "player1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("player1", models.PayoutStatusPending, models.PayoutStatusApproved, models.PayoutStatusProcessing).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO payout_requests").
			WithArgs(sqlmock.AnyArg(), "player1", int64(4000), models.PayoutStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		request, err := service.Request(ctx, "player1", 4000, details)
		assert.NoError(t, err)
		assert.Equal(t, models.PayoutStatusPending, request.Status)
		assert.Equal(t, int64(4000), request.Amount)
		assert.Equal(t, "payout.pending", broadcaster.lastEvent().Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second outstanding request is rejected and the hold rolls back", func(t *testing.T) {
		service, mock, broadcaster := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows(walletColumns).
				AddRow("player1", 6000, 2, time.Now()))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1").
			WithArgs(int64(4000), sqlmock.AnyArg(), "player1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("player1", models.PayoutStatusPending, models.PayoutStatusApproved, models.PayoutStatusProcessing).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		request, err := service.Request(ctx, "player1", 2000, details)
		assert.Nil(t, request)
		assert.ErrorIs(t, err, ErrDuplicateOperation)
		assert.Empty(t, broadcaster.events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		service, mock, _ := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows(walletColumns).
				AddRow("player1", 1000, 1, time.Now()))
		mock.ExpectRollback()

		_, err := service.Request(ctx, "player1", 4000, details)

		var insufficient *InsufficientFundsError
		assert.True(t, errors.As(err, &insufficient))
		assert.Equal(t, int64(1000), insufficient.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutService_AdminTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("non-admin is refused outright", func(t *testing.T) {
		service, _, _ := newPayoutService(t)

		_, err := service.AdminTransition(ctx, "req1", models.PayoutStatusApproved, "", "", false)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("rejection refunds the hold in the same transaction", func(t *testing.T) {
		service, mock, broadcaster := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM payout_requests WHERE id = \\$1 FOR UPDATE").
			WithArgs("req1").
			WillReturnRows(sqlmock.NewRows(payoutColumns).
				AddRow("req1", "player1", 4000, "pending", nil, "", "", time.Now(), nil))

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows(walletColumns).
				AddRow("player1", 6000, 3, time.Now()))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("player1", models.EntryWithdrawalRefund, int64(4000), int64(10000),
				"req1", "payout", "Withdrawal hold refund (rejected)", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1").
			WithArgs(int64(10000), sqlmock.AnyArg(), "player1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE payout_requests SET status = \\$1, admin_notes = \\$2, proof_reference = \\$3, processed_at = \\$4 WHERE id = \\$5").
			WithArgs(models.PayoutStatusRejected, "missing KYC documents", "", sqlmock.AnyArg(), "req1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		request, err := service.AdminTransition(ctx, "req1", models.PayoutStatusRejected, "missing KYC documents", "", true)
		assert.NoError(t, err)
		assert.Equal(t, models.PayoutStatusRejected, request.Status)
		assert.NotNil(t, request.ProcessedAt)
		assert.Equal(t, "payout.rejected", broadcaster.lastEvent().Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completion records the transfer without moving funds", func(t *testing.T) {
		service, mock, broadcaster := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM payout_requests WHERE id = \\$1 FOR UPDATE").
			WithArgs("req1").
			WillReturnRows(sqlmock.NewRows(payoutColumns).
				AddRow("req1", "player1", 4000, "processing", nil, "", "", time.Now(), nil))
		mock.ExpectExec("UPDATE payout_requests SET status = \\$1, admin_notes = \\$2, proof_reference = \\$3, processed_at = \\$4 WHERE id = \\$5").
			WithArgs(models.PayoutStatusCompleted, "", "bank-ref-991", sqlmock.AnyArg(), "req1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		request, err := service.AdminTransition(ctx, "req1", models.PayoutStatusCompleted, "", "bank-ref-991", true)
		assert.NoError(t, err)
		assert.Equal(t, "bank-ref-991", request.ProofReference)
		assert.NotNil(t, request.ProcessedAt)
		assert.Equal(t, "payout.completed", broadcaster.lastEvent().Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal states admit no transitions", func(t *testing.T) {
		service, mock, _ := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM payout_requests WHERE id = \\$1 FOR UPDATE").
			WithArgs("req1").
			WillReturnRows(sqlmock.NewRows(payoutColumns).
				AddRow("req1", "player1", 4000, "completed", nil, "", "", time.Now(), time.Now()))
		mock.ExpectRollback()

		_, err := service.AdminTransition(ctx, "req1", models.PayoutStatusRejected, "", "", true)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending cannot skip straight to completed", func(t *testing.T) {
		service, mock, _ := newPayoutService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM payout_requests WHERE id = \\$1 FOR UPDATE").
			WithArgs("req1").
			WillReturnRows(sqlmock.NewRows(payoutColumns).
				AddRow("req1", "player1", 4000, "pending", nil, "", "", time.Now(), nil))
		mock.ExpectRollback()

		_, err := service.AdminTransition(ctx, "req1", models.PayoutStatusCompleted, "", "", true)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransitionAllowed(t *testing.T) {
	assert.True(t, transitionAllowed(models.PayoutStatusPending, models.PayoutStatusApproved))
	assert.True(t, transitionAllowed(models.PayoutStatusApproved, models.PayoutStatusProcessing))
	assert.True(t, transitionAllowed(models.PayoutStatusProcessing, models.PayoutStatusCompleted))
	assert.True(t, transitionAllowed(models.PayoutStatusProcessing, models.PayoutStatusRejected))
	assert.False(t, transitionAllowed(models.PayoutStatusCompleted, models.PayoutStatusRejected))
	assert.False(t, transitionAllowed(models.PayoutStatusRejected, models.PayoutStatusPending))
	assert.False(t, transitionAllowed(models.PayoutStatusPending, models.PayoutStatusCompleted))
}
