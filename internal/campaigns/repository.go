package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"outreach-platform/internal/phoneintel"
)

var ErrNotFound = errors.New("campaign not found")

// ErrContactNotFound is returned by contact lookups.
var ErrContactNotFound = errors.New("contact not found")

// Store is the persistence contract for campaigns and their contacts.
type Store interface {
	Get(ctx context.Context, campaignID string) (Campaign, error)
	// ListByOrganization returns the organization's campaigns, optionally
	// filtered by status ("" for all).
	ListByOrganization(ctx context.Context, organizationID string, status Status) ([]Campaign, error)
	// Transition moves a campaign from -> to only if it is currently in from.
	// ok is false when the campaign was in another status.
	Transition(ctx context.Context, campaignID string, from, to Status, reason PauseReason) (ok bool, err error)

	ListContacts(ctx context.Context, campaignID string) ([]Contact, error)
	GetContact(ctx context.Context, contactID string) (Contact, error)
	SetPhoneClassification(ctx context.Context, contactID, phone string, phoneType phoneintel.PhoneType, valid bool) error
	// MarkOptedOut flags the contact and suppresses it until the given instant.
	MarkOptedOut(ctx context.Context, contactID string, until time.Time) (Contact, error)
	// FindContactsByPhone returns every contact with the phone, across campaigns.
	FindContactsByPhone(ctx context.Context, phone string) ([]Contact, error)
}

// PostgresStore implements Store on Postgres via database/sql.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const campaignColumns = `id, organization_id, name, channel, body, status, paused_reason, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, campaignID string) (Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(s.db.QueryRowContext(ctx, q, campaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) ListByOrganization(ctx context.Context, organizationID string, status Status) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns
WHERE organization_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, organizationID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, campaignID string, from, to Status, reason PauseReason) (bool, error) {
	const q = `
UPDATE campaigns
SET status = $3, paused_reason = $4, updated_at = $5
WHERE id = $1 AND status = $2
`
	res, err := s.db.ExecContext(ctx, q, campaignID, from, to, nullReason(reason), s.clock().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const contactColumns = `id, organization_id, campaign_id, first_name, last_name, phone, phone_type, is_phone_valid, opted_out, next_eligible_at, timezone`

func (s *PostgresStore) ListContacts(ctx context.Context, campaignID string) ([]Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts
WHERE campaign_id = $1
ORDER BY lower(last_name), lower(first_name), id`
	return s.queryContacts(ctx, q, campaignID)
}

func (s *PostgresStore) FindContactsByPhone(ctx context.Context, phone string) ([]Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE phone = $1 ORDER BY id`
	return s.queryContacts(ctx, q, phone)
}

func (s *PostgresStore) queryContacts(ctx context.Context, q string, args ...any) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortContacts(out)
	return out, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(s.db.QueryRowContext(ctx, q, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	return c, err
}

func (s *PostgresStore) SetPhoneClassification(ctx context.Context, contactID, phone string, phoneType phoneintel.PhoneType, valid bool) error {
	const q = `UPDATE contacts SET phone = $2, phone_type = $3, is_phone_valid = $4 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, contactID, phone, phoneType, valid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (s *PostgresStore) MarkOptedOut(ctx context.Context, contactID string, until time.Time) (Contact, error) {
	q := `UPDATE contacts SET opted_out = true, next_eligible_at = $2 WHERE id = $1
RETURNING ` + contactColumns
	c, err := scanContact(s.db.QueryRowContext(ctx, q, contactID, until.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (Campaign, error) {
	var c Campaign
	var reason sql.NullString
	if err := r.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.Name,
		&c.Channel,
		&c.Body,
		&c.Status,
		&reason,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Campaign{}, err
	}
	c.PausedReason = PauseReason(reason.String)
	return c, nil
}

func scanContact(r rowScanner) (Contact, error) {
	var c Contact
	var phoneType, tz sql.NullString
	var next sql.NullTime
	if err := r.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.CampaignID,
		&c.FirstName,
		&c.LastName,
		&c.Phone,
		&phoneType,
		&c.IsPhoneValid,
		&c.OptedOut,
		&next,
		&tz,
	); err != nil {
		return Contact{}, err
	}
	c.PhoneType = phoneintel.PhoneType(phoneType.String)
	c.Timezone = tz.String
	if next.Valid {
		t := next.Time
		c.NextEligibleAt = &t
	}
	return c, nil
}

func nullReason(r PauseReason) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}
