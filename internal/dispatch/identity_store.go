package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"outreach-platform/internal/routing"
)

var (
	ErrIdentityNotFound = errors.New("sender identity not found")
	ErrDailyCapReached  = errors.New("sender identity reached its daily cap")
	ErrCoolingDown      = errors.New("sender identity is cooling down")
	ErrIdentityInactive = errors.New("sender identity is not active")
)

// IdentityStore persists sender identities and their usage counters.
type IdentityStore interface {
	// ListIdentities returns the organization's identities for a purpose, ordered by id.
	ListIdentities(ctx context.Context, organizationID string, purpose routing.Purpose) ([]Identity, error)
	Get(ctx context.Context, identityID string) (Identity, error)
	// RecordUse atomically claims one use of the identity at now. It fails with
	// ErrDailyCapReached, ErrCoolingDown or ErrIdentityInactive without side effects.
	RecordUse(ctx context.Context, identityID string, now time.Time, dailyCap int, cooldown time.Duration) (Identity, error)
}

// PostgresIdentityStore implements IdentityStore on the sender_identities table.
type PostgresIdentityStore struct {
	db *sql.DB
}

func NewPostgresIdentityStore(db *sql.DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

const identityColumns = `id, organization_id, phone_number, purpose, calls_or_messages_today, usage_date, last_used_at, status`

func (s *PostgresIdentityStore) ListIdentities(ctx context.Context, organizationID string, purpose routing.Purpose) ([]Identity, error) {
	q := `SELECT ` + identityColumns + ` FROM sender_identities
WHERE organization_id = $1 AND purpose = $2
ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, organizationID, purpose)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresIdentityStore) Get(ctx context.Context, identityID string) (Identity, error) {
	q := `SELECT ` + identityColumns + ` FROM sender_identities WHERE id = $1`
	id, err := scanIdentity(s.db.QueryRowContext(ctx, q, identityID))
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrIdentityNotFound
	}
	return id, err
}

func (s *PostgresIdentityStore) RecordUse(ctx context.Context, identityID string, now time.Time, dailyCap int, cooldown time.Duration) (Identity, error) {
	// Single conditional UPDATE: the counter resets on a new UTC day, the cap
	// and cooldown are checked against the locked row.
	q := `
UPDATE sender_identities
SET calls_or_messages_today = CASE WHEN usage_date = $3::date THEN calls_or_messages_today + 1 ELSE 1 END,
    usage_date = $3::date,
    last_used_at = $2
WHERE id = $1
  AND status = 'ACTIVE'
  AND (usage_date IS DISTINCT FROM $3::date OR calls_or_messages_today < $4)
  AND (last_used_at IS NULL OR last_used_at <= $5)
RETURNING ` + identityColumns
	now = now.UTC()
	id, err := scanIdentity(s.db.QueryRowContext(ctx, q,
		identityID, now, utcDate(now), dailyCap, now.Add(-cooldown)))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Identity{}, err
	}
	current, err := s.Get(ctx, identityID)
	if err != nil {
		return Identity{}, err
	}
	if err := refusal(current, now, dailyCap, cooldown); err != nil {
		return Identity{}, err
	}
	// The row changed between the UPDATE and the re-read; treat it as a lost claim.
	return Identity{}, ErrCoolingDown
}

// refusal explains why a claim on id at now was refused.
func refusal(id Identity, now time.Time, dailyCap int, cooldown time.Duration) error {
	switch {
	case id.Status != IdentityActive:
		return ErrIdentityInactive
	case id.UsedOn(now) >= dailyCap:
		return ErrDailyCapReached
	case id.LastUsedAt != nil && now.Sub(*id.LastUsedAt) < cooldown:
		return ErrCoolingDown
	default:
		return nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(r rowScanner) (Identity, error) {
	var id Identity
	var usage, last sql.NullTime
	if err := r.Scan(
		&id.ID,
		&id.OrganizationID,
		&id.PhoneNumber,
		&id.Purpose,
		&id.CallsOrMessagesToday,
		&usage,
		&last,
		&id.Status,
	); err != nil {
		return Identity{}, err
	}
	if usage.Valid {
		id.UsageDate = usage.Time
	}
	if last.Valid {
		t := last.Time
		id.LastUsedAt = &t
	}
	return id, nil
}

// MemoryIdentityStore is an in-memory IdentityStore useful for tests.
type MemoryIdentityStore struct {
	mu         sync.Mutex
	identities map[string]Identity
}

func NewMemoryIdentityStore(ids ...Identity) *MemoryIdentityStore {
	s := &MemoryIdentityStore{identities: map[string]Identity{}}
	for _, id := range ids {
		s.Put(id)
	}
	return s
}

func (s *MemoryIdentityStore) Put(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.Status == "" {
		id.Status = IdentityActive
	}
	s.identities[id.ID] = id
}

func (s *MemoryIdentityStore) ListIdentities(ctx context.Context, organizationID string, purpose routing.Purpose) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identity
	for _, id := range s.identities {
		if id.OrganizationID == organizationID && id.Purpose == purpose {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryIdentityStore) Get(ctx context.Context, identityID string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[identityID]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return id, nil
}

func (s *MemoryIdentityStore) RecordUse(ctx context.Context, identityID string, now time.Time, dailyCap int, cooldown time.Duration) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[identityID]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	now = now.UTC()
	if err := refusal(id, now, dailyCap, cooldown); err != nil {
		return Identity{}, err
	}
	id.CallsOrMessagesToday = id.UsedOn(now) + 1
	id.UsageDate = utcDate(now)
	id.LastUsedAt = &now
	s.identities[identityID] = id
	return id, nil
}
