package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests.
// Each wallet has its own mutex, so Locked serializes per organization only.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*memWallet
	clock   func() time.Time
}

type memWallet struct {
	mu   sync.Mutex
	w    Wallet
	txns []Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: map[string]*memWallet{}, clock: time.Now}
}

// Seed installs w as-is, replacing any existing wallet for the organization.
func (s *MemoryStore) Seed(w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.wallets[w.OrganizationID] = &memWallet{w: w}
}

func (s *MemoryStore) entry(organizationID string, create bool) (*memWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mw, ok := s.wallets[organizationID]
	if !ok {
		if !create {
			return nil, ErrNotFound
		}
		now := s.clock().UTC()
		mw = &memWallet{w: Wallet{
			ID:             uuid.NewString(),
			OrganizationID: organizationID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}}
		s.wallets[organizationID] = mw
	}
	return mw, nil
}

func (s *MemoryStore) Locked(ctx context.Context, organizationID string, create bool, fn func(ctx context.Context, w Wallet, tx LedgerTx) error) error {
	mw, err := s.entry(organizationID, create)
	if err != nil {
		return err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	tx := &memLedgerTx{w: mw.w, committed: mw.txns}
	if err := fn(ctx, mw.w, tx); err != nil {
		return err
	}
	mw.w = tx.w
	mw.txns = append(mw.txns, tx.pending...)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, organizationID string, create bool) (Wallet, error) {
	mw, err := s.entry(organizationID, create)
	if err != nil {
		return Wallet{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.w, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]Transaction, error) {
	mw, err := s.entry(organizationID, false)
	if err != nil {
		return nil, nil
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var out []Transaction
	for _, t := range mw.txns {
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// memLedgerTx stages writes until Locked commits them.
type memLedgerTx struct {
	w         Wallet
	committed []Transaction
	pending   []Transaction
}

func (t *memLedgerTx) FindByReference(ctx context.Context, kind Kind, referenceID string) (Transaction, bool, error) {
	for _, list := range [][]Transaction{t.committed, t.pending} {
		for _, e := range list {
			if e.Kind == kind && e.ReferenceID == referenceID {
				return e, true, nil
			}
		}
	}
	return Transaction{}, false, nil
}

func (t *memLedgerTx) Append(ctx context.Context, e Transaction) (Wallet, error) {
	if e.ReferenceID != "" {
		if _, ok, _ := t.FindByReference(ctx, e.Kind, e.ReferenceID); ok {
			return Wallet{}, ErrDuplicateReference
		}
	}
	t.pending = append(t.pending, e)
	t.w.BalanceMinor += e.AmountMinor
	t.w.UpdatedAt = e.CreatedAt
	return t.w, nil
}

func (t *memLedgerTx) SetFrozen(ctx context.Context, frozen bool, now time.Time) (Wallet, error) {
	t.w.IsFrozen = frozen
	t.w.UpdatedAt = now
	return t.w, nil
}
