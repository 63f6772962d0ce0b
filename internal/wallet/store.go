package wallet

import (
	"context"
	"time"
)

// Store is the persistence contract for wallets.
//
// Locked is the only way to mutate money: it serializes all callers on the
// organization's wallet and commits everything done through the LedgerTx
// atomically, or nothing if fn returns an error.
type Store interface {
	// Locked runs fn with the organization's wallet locked. When create is false
	// and the wallet does not exist it returns ErrNotFound without calling fn.
	Locked(ctx context.Context, organizationID string, create bool, fn func(ctx context.Context, w Wallet, tx LedgerTx) error) error

	Get(ctx context.Context, organizationID string, create bool) (Wallet, error)

	ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]Transaction, error)
}

// LedgerTx exposes the writes allowed while a wallet is locked.
type LedgerTx interface {
	FindByReference(ctx context.Context, kind Kind, referenceID string) (Transaction, bool, error)

	// Append inserts t and applies t.AmountMinor to the wallet balance.
	Append(ctx context.Context, t Transaction) (Wallet, error)

	SetFrozen(ctx context.Context, frozen bool, now time.Time) (Wallet, error)
}
