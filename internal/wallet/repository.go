package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"outreach-platform/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist (see migrations/):
// - wallets (UNIQUE organization_id)
// - wallet_transactions (immutable append-only)
//   UNIQUE (organization_id, kind, reference_id) WHERE reference_id IS NOT NULL

// PostgresStore implements Store on Postgres via database/sql.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const lockRetries = 3

func (s *PostgresStore) Locked(ctx context.Context, organizationID string, create bool, fn func(ctx context.Context, w Wallet, tx LedgerTx) error) error {
	return utils.WithTxRetry(ctx, s.db, &sql.TxOptions{}, lockRetries, func(ctx context.Context, tx *sql.Tx) error {
		if create {
			if err := ensureWallet(ctx, tx, organizationID, s.clock().UTC()); err != nil {
				return err
			}
		}
		w, err := lockWallet(ctx, tx, organizationID)
		if err != nil {
			return err
		}
		return fn(ctx, w, pgLedgerTx{tx: tx, wallet: w})
	})
}

func (s *PostgresStore) Get(ctx context.Context, organizationID string, create bool) (Wallet, error) {
	if create {
		if err := ensureWallet(ctx, s.db, organizationID, s.clock().UTC()); err != nil {
			return Wallet{}, err
		}
	}
	const q = `
SELECT id, organization_id, balance_minor, is_frozen, created_at, updated_at
FROM wallets
WHERE organization_id = $1
`
	return scanWallet(s.db.QueryRowContext(ctx, q, organizationID))
}

func (s *PostgresStore) ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]Transaction, error) {
	const q = `
SELECT id, wallet_id, organization_id, kind, amount_minor, reference_id, created_at
FROM wallet_transactions
WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at, id
`
	rows, err := s.db.QueryContext(ctx, q, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureWallet(ctx context.Context, db execer, organizationID string, now time.Time) error {
	const q = `
INSERT INTO wallets (id, organization_id, balance_minor, is_frozen, created_at, updated_at)
VALUES ($1, $2, 0, false, $3, $3)
ON CONFLICT (organization_id) DO NOTHING
`
	_, err := db.ExecContext(ctx, q, uuid.NewString(), organizationID, now)
	return err
}

func lockWallet(ctx context.Context, tx *sql.Tx, organizationID string) (Wallet, error) {
	// Lock the wallet row to serialize concurrent money operations per organization.
	const q = `
SELECT id, organization_id, balance_minor, is_frozen, created_at, updated_at
FROM wallets
WHERE organization_id = $1
FOR UPDATE
`
	return scanWallet(tx.QueryRowContext(ctx, q, organizationID))
}

func scanWallet(row *sql.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(
		&w.ID,
		&w.OrganizationID,
		&w.BalanceMinor,
		&w.IsFrozen,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r rowScanner) (Transaction, error) {
	var t Transaction
	var ref sql.NullString
	if err := r.Scan(
		&t.ID,
		&t.WalletID,
		&t.OrganizationID,
		&t.Kind,
		&t.AmountMinor,
		&ref,
		&t.CreatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.ReferenceID = ref.String
	return t, nil
}

type pgLedgerTx struct {
	tx     *sql.Tx
	wallet Wallet
}

func (p pgLedgerTx) FindByReference(ctx context.Context, kind Kind, referenceID string) (Transaction, bool, error) {
	const q = `
SELECT id, wallet_id, organization_id, kind, amount_minor, reference_id, created_at
FROM wallet_transactions
WHERE organization_id = $1 AND kind = $2 AND reference_id = $3
LIMIT 1
`
	t, err := scanTransaction(p.tx.QueryRowContext(ctx, q, p.wallet.OrganizationID, kind, referenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

func (p pgLedgerTx) Append(ctx context.Context, t Transaction) (Wallet, error) {
	const ins = `
INSERT INTO wallet_transactions (
  id, wallet_id, organization_id, kind, amount_minor, reference_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	ref := sql.NullString{String: t.ReferenceID, Valid: t.ReferenceID != ""}
	if _, err := p.tx.ExecContext(ctx, ins,
		t.ID,
		t.WalletID,
		t.OrganizationID,
		t.Kind,
		t.AmountMinor,
		ref,
		t.CreatedAt,
	); err != nil {
		if utils.IsUniqueViolation(err) {
			return Wallet{}, ErrDuplicateReference
		}
		return Wallet{}, err
	}

	const upd = `
UPDATE wallets
SET balance_minor = balance_minor + $2, updated_at = $3
WHERE id = $1
RETURNING id, organization_id, balance_minor, is_frozen, created_at, updated_at
`
	return scanWallet(p.tx.QueryRowContext(ctx, upd, p.wallet.ID, t.AmountMinor, t.CreatedAt))
}

func (p pgLedgerTx) SetFrozen(ctx context.Context, frozen bool, now time.Time) (Wallet, error) {
	const q = `
UPDATE wallets
SET is_frozen = $2, updated_at = $3
WHERE id = $1
RETURNING id, organization_id, balance_minor, is_frozen, created_at, updated_at
`
	return scanWallet(p.tx.QueryRowContext(ctx, q, p.wallet.ID, frozen, now))
}
