package wallet

import "time"

// Wallet is an organization's prepaid balance. One per organization.
//
// Money invariants:
// - BalanceMinor never goes below zero.
// - BalanceMinor only changes together with an appended Transaction.
// - A frozen wallet rejects debits regardless of balance.
type Wallet struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	BalanceMinor int64 `json:"balance_minor" db:"balance_minor"`
	IsFrozen     bool  `json:"is_frozen" db:"is_frozen"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable append-only ledger row.
type Transaction struct {
	ID             string `json:"id" db:"id"`
	WalletID       string `json:"wallet_id" db:"wallet_id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Kind Kind `json:"kind" db:"kind"`

	// AmountMinor is signed: credits are positive, debits are negative.
	AmountMinor int64 `json:"amount_minor" db:"amount_minor"`

	// ReferenceID is optional and caller supplied. (organization, kind, reference)
	// is unique, which makes retried credits and debits apply at most once.
	ReferenceID string `json:"reference_id,omitempty" db:"reference_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Kind string

const (
	KindDebit  Kind = "DEBIT"
	KindCredit Kind = "CREDIT"
)

type Balance struct {
	OrganizationID string    `json:"organization_id"`
	BalanceMinor   int64     `json:"balance_minor"`
	IsFrozen       bool      `json:"is_frozen"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Result is returned by Debit and Credit.
type Result struct {
	Transaction  Transaction `json:"transaction"`
	BalanceAfter int64       `json:"balance_after"`
	// Duplicate is set when ReferenceID matched an earlier transaction of the same
	// kind; nothing was applied and Transaction is the original row.
	Duplicate bool `json:"duplicate"`
}

func balanceOf(w Wallet) Balance {
	return Balance{
		OrganizationID: w.OrganizationID,
		BalanceMinor:   w.BalanceMinor,
		IsFrozen:       w.IsFrozen,
		UpdatedAt:      w.UpdatedAt,
	}
}
