package pricing

import (
	"context"
	"database/sql"

	"outreach-platform/internal/campaigns"
)

// PostgresRepo implements RateRepository on the send_rates table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Candidates(ctx context.Context, organizationID string, channel campaigns.Channel, country string) ([]Rate, error) {
	const q = `
SELECT id, organization_id, channel, country_iso2, per_segment_minor, rate_per_minute_minor,
       billing_increment_seconds, minimum_billable_seconds, effective_from, effective_to, status
FROM send_rates
WHERE channel = $1
  AND (organization_id IS NULL OR organization_id = $2)
  AND country_iso2 IN ($3, '*')
`
	rows, err := r.db.QueryContext(ctx, q, channel, organizationID, country)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var p Rate
		var org sql.NullString
		var to sql.NullTime
		if err := rows.Scan(
			&p.ID,
			&org,
			&p.Channel,
			&p.CountryISO2,
			&p.PerSegmentMinor,
			&p.RatePerMinuteMinor,
			&p.BillingIncrementSeconds,
			&p.MinimumBillableSeconds,
			&p.EffectiveFrom,
			&to,
			&p.Status,
		); err != nil {
			return nil, err
		}
		p.OrganizationID = org.String
		if to.Valid {
			t := to.Time
			p.EffectiveTo = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
