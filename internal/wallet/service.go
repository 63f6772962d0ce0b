package wallet

import (
	"context"
	"errors"
	"time"

	"outreach-platform/internal/metrics"
	"outreach-platform/pkg/logger"

	"github.com/google/uuid"
)

// Service is the wallet ledger.
//
// Money invariants:
// - Every debit/credit runs inside one Store.Locked unit of work: lock, re-read,
//   validate, append transaction, apply delta, all-or-nothing.
// - The ledger is append-only.
// - (organization, kind, reference) applies at most once.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, m *metrics.Metrics) *Service {
	return &Service{store: store, metrics: m, clock: time.Now}
}

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrFrozen            = errors.New("wallet is frozen")
	ErrInvalidArgument   = errors.New("invalid argument")
	// ErrLedgerCorrupted means a locked wallet was found with a negative balance.
	// Debits stay refused until the row is repaired manually.
	ErrLedgerCorrupted    = errors.New("wallet ledger corrupted")
	ErrDuplicateReference = errors.New("duplicate transaction reference")
)

func (s *Service) GetBalance(ctx context.Context, organizationID string) (Balance, error) {
	if organizationID == "" {
		return Balance{}, ErrInvalidArgument
	}
	w, err := s.store.Get(ctx, organizationID, true)
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(w), nil
}

// Debit removes amountMinor from the organization's wallet. referenceID is optional;
// when set, a repeated debit with the same reference returns the original
// transaction with Duplicate=true.
func (s *Service) Debit(ctx context.Context, organizationID string, amountMinor int64, referenceID string) (Result, error) {
	if organizationID == "" || amountMinor <= 0 {
		return Result{}, ErrInvalidArgument
	}

	var out Result
	err := s.store.Locked(ctx, organizationID, false, func(ctx context.Context, w Wallet, tx LedgerTx) error {
		if w.BalanceMinor < 0 {
			logger.From(ctx).Error("wallet ledger corrupted: negative balance",
				"organization_id", organizationID, "wallet_id", w.ID, "balance_minor", w.BalanceMinor)
			return ErrLedgerCorrupted
		}

		if dup, ok, err := s.duplicate(ctx, tx, w, KindDebit, referenceID); err != nil || ok {
			out = dup
			return err
		}

		if w.IsFrozen {
			return ErrFrozen
		}
		if w.BalanceMinor-amountMinor < 0 {
			return ErrInsufficientFunds
		}

		entry := s.newTransaction(w, KindDebit, -amountMinor, referenceID)
		after, err := tx.Append(ctx, entry)
		if err != nil {
			return err
		}
		out = Result{Transaction: entry, BalanceAfter: after.BalanceMinor}
		return nil
	})
	s.observe("debit", out, err)
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// Credit adds amountMinor to the organization's wallet, creating it if needed.
// Frozen wallets still accept credits.
func (s *Service) Credit(ctx context.Context, organizationID string, amountMinor int64, referenceID string) (Result, error) {
	if organizationID == "" || amountMinor <= 0 {
		return Result{}, ErrInvalidArgument
	}

	var out Result
	err := s.store.Locked(ctx, organizationID, true, func(ctx context.Context, w Wallet, tx LedgerTx) error {
		if dup, ok, err := s.duplicate(ctx, tx, w, KindCredit, referenceID); err != nil || ok {
			out = dup
			return err
		}
		if w.BalanceMinor < 0 {
			// Money in is never refused; the wallet stays flagged through debits.
			logger.From(ctx).Error("crediting wallet with negative balance",
				"organization_id", organizationID, "wallet_id", w.ID, "balance_minor", w.BalanceMinor)
		}

		entry := s.newTransaction(w, KindCredit, amountMinor, referenceID)
		after, err := tx.Append(ctx, entry)
		if err != nil {
			return err
		}
		out = Result{Transaction: entry, BalanceAfter: after.BalanceMinor}
		return nil
	})
	s.observe("credit", out, err)
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

func (s *Service) Freeze(ctx context.Context, organizationID string) (Balance, error) {
	return s.setFrozen(ctx, organizationID, true)
}

func (s *Service) Unfreeze(ctx context.Context, organizationID string) (Balance, error) {
	return s.setFrozen(ctx, organizationID, false)
}

// ListTransactions returns transactions created in [from, to).
func (s *Service) ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]Transaction, error) {
	if organizationID == "" || !to.After(from) {
		return nil, ErrInvalidArgument
	}
	return s.store.ListTransactions(ctx, organizationID, from, to)
}

func (s *Service) setFrozen(ctx context.Context, organizationID string, frozen bool) (Balance, error) {
	if organizationID == "" {
		return Balance{}, ErrInvalidArgument
	}
	var out Balance
	err := s.store.Locked(ctx, organizationID, true, func(ctx context.Context, w Wallet, tx LedgerTx) error {
		if w.IsFrozen == frozen {
			out = balanceOf(w)
			return nil
		}
		after, err := tx.SetFrozen(ctx, frozen, s.clock().UTC())
		if err != nil {
			return err
		}
		out = balanceOf(after)
		return nil
	})
	op := "unfreeze"
	if frozen {
		op = "freeze"
	}
	s.metrics.LedgerOp(op, resultLabel(err))
	return out, err
}

func (s *Service) duplicate(ctx context.Context, tx LedgerTx, w Wallet, kind Kind, referenceID string) (Result, bool, error) {
	if referenceID == "" {
		return Result{}, false, nil
	}
	existing, ok, err := tx.FindByReference(ctx, kind, referenceID)
	if err != nil || !ok {
		return Result{}, false, err
	}
	return Result{Transaction: existing, BalanceAfter: w.BalanceMinor, Duplicate: true}, true, nil
}

func (s *Service) newTransaction(w Wallet, kind Kind, amountMinor int64, referenceID string) Transaction {
	return Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		OrganizationID: w.OrganizationID,
		Kind:           kind,
		AmountMinor:    amountMinor,
		ReferenceID:    referenceID,
		CreatedAt:      s.clock().UTC(),
	}
}

func (s *Service) observe(op string, res Result, err error) {
	if err == nil && res.Duplicate {
		s.metrics.LedgerOp(op, "duplicate")
		return
	}
	s.metrics.LedgerOp(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrFrozen):
		return "frozen"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLedgerCorrupted):
		return "corrupted"
	default:
		return "error"
	}
}
