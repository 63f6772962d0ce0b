package billing

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ProcessedStore remembers which provider events have been fully applied.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, provider, eventID string) (bool, error)
	// MarkProcessed is idempotent.
	MarkProcessed(ctx context.Context, provider, eventID, eventType string, at time.Time) error
}

// PostgresStore implements ProcessedStore on the processed_billing_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	const q = `SELECT 1 FROM processed_billing_events WHERE provider = $1 AND event_id = $2`
	var one int
	err := s.db.QueryRowContext(ctx, q, provider, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, provider, eventID, eventType string, at time.Time) error {
	const q = `
INSERT INTO processed_billing_events (provider, event_id, event_type, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, event_id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q, provider, eventID, eventType, at)
	return err
}

// MemoryStore is an in-memory ProcessedStore useful for tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]string{}}
}

func (s *MemoryStore) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[provider+"/"+eventID]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, provider, eventID, eventType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[provider+"/"+eventID] = eventType
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
