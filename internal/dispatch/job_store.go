package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
)

var ErrJobNotFound = errors.New("dispatch job not found")

// JobStore persists dispatch jobs and their progress.
type JobStore interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	Update(ctx context.Context, j Job) error
	ListByCampaign(ctx context.Context, campaignID string) ([]Job, error)
}

// PostgresJobStore implements JobStore on the dispatch_jobs table.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

const jobColumns = `id, campaign_id, organization_id, status, cursor, sent, failed, skipped,
paused_reason, failure_reason, started_at, created_at, updated_at`

func (s *PostgresJobStore) Create(ctx context.Context, j Job) error {
	const q = `
INSERT INTO dispatch_jobs (
  id, campaign_id, organization_id, status, cursor, sent, failed, skipped,
  paused_reason, failure_reason, started_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := s.db.ExecContext(ctx, q,
		j.ID, j.CampaignID, j.OrganizationID, j.Status, j.Cursor, j.Sent, j.Failed, j.Skipped,
		nullable(j.PausedReason), nullable(j.FailureReason), j.StartedAt, j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (Job, error) {
	q := `SELECT ` + jobColumns + ` FROM dispatch_jobs WHERE id = $1`
	j, err := scanJob(s.db.QueryRowContext(ctx, q, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return j, err
}

func (s *PostgresJobStore) Update(ctx context.Context, j Job) error {
	const q = `
UPDATE dispatch_jobs
SET status = $2, cursor = $3, sent = $4, failed = $5, skipped = $6,
    paused_reason = $7, failure_reason = $8, started_at = $9, updated_at = $10
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		j.ID, j.Status, j.Cursor, j.Sent, j.Failed, j.Skipped,
		nullable(j.PausedReason), nullable(j.FailureReason), j.StartedAt, j.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) ListByCampaign(ctx context.Context, campaignID string) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM dispatch_jobs WHERE campaign_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var paused, failure sql.NullString
	var started sql.NullTime
	if err := r.Scan(
		&j.ID,
		&j.CampaignID,
		&j.OrganizationID,
		&j.Status,
		&j.Cursor,
		&j.Sent,
		&j.Failed,
		&j.Skipped,
		&paused,
		&failure,
		&started,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.PausedReason = paused.String
	j.FailureReason = failure.String
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	return j, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// MemoryJobStore is an in-memory JobStore useful for tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]Job{}}
}

func (s *MemoryJobStore) Create(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

func (s *MemoryJobStore) Update(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *MemoryJobStore) ListByCampaign(ctx context.Context, campaignID string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
