package wallet

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var walletCols = []string{"id", "organization_id", "balance_minor", "is_frozen", "created_at", "updated_at"}

func TestPostgresStore_DebitLocksAndAppends(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(NewPostgresStore(db), nil)
	svc.clock = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM wallets\nWHERE organization_id = $1\nFOR UPDATE")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", int64(1000), false, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM wallet_transactions\nWHERE organization_id = $1 AND kind = $2 AND reference_id = $3")).
		WithArgs("org-1", KindDebit, "send-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions")).
		WithArgs(sqlmock.AnyArg(), "w-1", "org-1", KindDebit, int64(-300), "send-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets\nSET balance_minor = balance_minor + $2")).
		WithArgs("w-1", int64(-300), now).
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", int64(700), false, now, now))
	mock.ExpectCommit()

	res, err := svc.Debit(context.Background(), "org-1", 300, "send-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsufficientFundsRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now().UTC()
	svc := NewService(NewPostgresStore(db), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", int64(100), false, now, now))
	mock.ExpectRollback()

	_, err := svc.Debit(context.Background(), "org-1", 300, "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MissingWalletIsNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	svc := NewService(NewPostgresStore(db), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("org-404").
		WillReturnRows(sqlmock.NewRows(walletCols))
	mock.ExpectRollback()

	_, err := svc.Debit(context.Background(), "org-404", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DuplicateCreditReturnsOriginal(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now().UTC()
	svc := NewService(NewPostgresStore(db), nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallets")).
		WithArgs(sqlmock.AnyArg(), "org-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", int64(500), false, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM wallet_transactions")).
		WithArgs("org-1", KindCredit, "PAY-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_id", "organization_id", "kind", "amount_minor", "reference_id", "created_at"}).
			AddRow("t-1", "w-1", "org-1", "CREDIT", int64(500), "PAY-1", now))
	mock.ExpectCommit()

	res, err := svc.Credit(context.Background(), "org-1", 500, "PAY-1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "t-1", res.Transaction.ID)
	assert.Equal(t, int64(500), res.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}
