package phoneintel

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// CacheStore persists validation results across processes.
type CacheStore interface {
	GetMany(ctx context.Context, phones []string) (map[string]Entry, error)
	UpsertMany(ctx context.Context, entries []Entry) error
}

// PostgresStore implements CacheStore on the phone_validation_cache table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetMany(ctx context.Context, phones []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(phones))
	if len(phones) == 0 {
		return out, nil
	}
	const q = `
SELECT phone, phone_type, carrier, country, is_valid, last_checked_at
FROM phone_validation_cache
WHERE phone = ANY($1::text[])
`
	rows, err := s.db.QueryContext(ctx, q, phones)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var carrier, country sql.NullString
		if err := rows.Scan(&e.Phone, &e.PhoneType, &carrier, &country, &e.IsValid, &e.LastCheckedAt); err != nil {
			return nil, err
		}
		e.Carrier, e.Country = carrier.String, country.String
		out[e.Phone] = e
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMany(ctx context.Context, entries []Entry) error {
	const q = `
INSERT INTO phone_validation_cache (phone, phone_type, carrier, country, is_valid, last_checked_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (phone) DO UPDATE SET
  phone_type = EXCLUDED.phone_type,
  carrier = EXCLUDED.carrier,
  country = EXCLUDED.country,
  is_valid = EXCLUDED.is_valid,
  last_checked_at = EXCLUDED.last_checked_at
`
	for _, e := range entries {
		if _, err := s.db.ExecContext(ctx, q,
			e.Phone,
			e.PhoneType,
			nullable(e.Carrier),
			nullable(e.Country),
			e.IsValid,
			e.LastCheckedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// MemoryStore is an in-memory CacheStore for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	upserts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (s *MemoryStore) GetMany(ctx context.Context, phones []string) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(phones))
	for _, p := range phones {
		if e, ok := s.entries[p]; ok {
			out[p] = e
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertMany(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Phone] = e
		s.upserts++
	}
	return nil
}

// Put seeds an entry directly.
func (s *MemoryStore) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.LastCheckedAt.IsZero() {
		e.LastCheckedAt = time.Now().UTC()
	}
	s.entries[e.Phone] = e
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
