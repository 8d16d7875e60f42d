package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/arenapay/backend/internal/models"
)

func TestLedgerService_ApplyEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	ctx := context.Background()

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "updated_at"}).
				AddRow("player1", 5000, 3, time.Now()))

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("player1", models.EntryDeposit, int64(2000), int64(7000),
				"tx-1", "topup", "Wallet topup", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE owner_id = \\$3 AND version = \\$4").
			WithArgs(int64(7000), sqlmock.AnyArg(), "player1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.ApplyEntry(ctx, "player1", 2000, models.EntryDeposit, "tx-1", "topup", "Wallet topup")
		assert.NoError(t, err)
		assert.Equal(t, int64(42), entry.ID)
		assert.Equal(t, int64(7000), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit past zero fails with no ledger write", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "updated_at"}).
				AddRow("player1", 100, 4, time.Now()))

		mock.ExpectRollback()

		entry, err := service.ApplyEntry(ctx, "player1", -500, models.EntryFee, "match-1", "match", "Entry fee")
		assert.Nil(t, entry)

		var insufficient *InsufficientFundsError
		assert.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "player1", insufficient.OwnerID)
		assert.Equal(t, int64(100), insufficient.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wallet created on first touch", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("newbie").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectExec("INSERT INTO wallets").
			WithArgs("newbie", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("newbie").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "updated_at"}).
				AddRow("newbie", 0, 1, time.Now()))

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("newbie", models.EntryDeposit, int64(3000), int64(3000),
				"tx-2", "topup", "Wallet topup", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE owner_id = \\$3 AND version = \\$4").
			WithArgs(int64(3000), sqlmock.AnyArg(), "newbie", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.ApplyEntry(ctx, "newbie", 3000, models.EntryDeposit, "tx-2", "topup", "Wallet topup")
		assert.NoError(t, err)
		assert.Equal(t, int64(3000), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost wallet update aborts the entry", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT owner_id, balance, version, updated_at FROM wallets WHERE owner_id = \\$1 FOR UPDATE").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "updated_at"}).
				AddRow("player1", 1000, 2, time.Now()))

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE owner_id = \\$3 AND version = \\$4").
			WithArgs(int64(1500), sqlmock.AnyArg(), "player1", 2).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		entry, err := service.ApplyEntry(ctx, "player1", 500, models.EntryDeposit, "tx-3", "topup", "Wallet topup")
		assert.Nil(t, entry)
		assert.ErrorContains(t, err, "optimistic lock")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	ctx := context.Background()

	t.Run("existing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM wallets WHERE owner_id = \\$1").
			WithArgs("player1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1234))

		balance, err := service.Balance(ctx, "player1")
		assert.NoError(t, err)
		assert.Equal(t, int64(1234), balance)
	})

	t.Run("unknown owner reads zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM wallets WHERE owner_id = \\$1").
			WithArgs("stranger").
			WillReturnError(sql.ErrNoRows)

		balance, err := service.Balance(ctx, "stranger")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestLedgerService_Entries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	now := time.Now()
	mock.ExpectQuery("SELECT id, owner_id, kind, amount, balance_after, reference_id, reference_kind, description, metadata, created_at FROM ledger_entries").
		WithArgs("player1", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "kind", "amount", "balance_after",
			"reference_id", "reference_kind", "description", "metadata", "created_at"}).
			AddRow(int64(2), "player1", "prize", 9000, 10000, "m1", "match", "Prize for round 1", nil, now).
			AddRow(int64(1), "player1", "deposit", 1000, 1000, "t1", "topup", "Wallet topup", nil, now))

	entries, err := service.Entries(context.Background(), "player1", 50)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, models.EntryPrize, entries[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}
