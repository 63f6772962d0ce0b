package audit

import (
	"context"
	"database/sql"
	"time"
)

// NOTE: compliance_events is INSERT-only; see migrations/ for the trigger that
// rejects UPDATE and DELETE.

// PostgresRepo implements Repository on Postgres via database/sql.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO compliance_events (
  id, organization_id, contact_id, campaign_id, kind,
  actor_user_id, actor_role, ip_address, payload, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		nullable(e.ContactID),
		nullable(e.CampaignID),
		e.Kind,
		nullable(e.ActorUserID),
		nullable(e.ActorRole),
		nullable(e.IPAddress),
		payload,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, organizationID string, from, to time.Time) ([]Event, error) {
	const q = `
SELECT id, organization_id, contact_id, campaign_id, kind, actor_user_id, actor_role, ip_address, payload, created_at
FROM compliance_events
WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var contactID, campaignID, actorUserID, actorRole, ip sql.NullString
		var payload []byte
		if err := rows.Scan(
			&e.ID,
			&e.OrganizationID,
			&contactID,
			&campaignID,
			&e.Kind,
			&actorUserID,
			&actorRole,
			&ip,
			&payload,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.ContactID, e.CampaignID = contactID.String, campaignID.String
		e.ActorUserID, e.ActorRole, e.IPAddress = actorUserID.String, actorRole.String, ip.String
		if len(payload) > 0 {
			e.Payload = payload
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) HasContactEvent(ctx context.Context, contactID string, kind Kind) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM compliance_events WHERE contact_id = $1 AND kind = $2)`
	var ok bool
	err := r.db.QueryRowContext(ctx, q, contactID, kind).Scan(&ok)
	return ok, err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
