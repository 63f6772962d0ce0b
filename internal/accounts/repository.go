package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("accounts: not found")

// Store is the persistence contract for organizations and subscriptions.
type Store interface {
	GetOrganization(ctx context.Context, organizationID string) (Organization, error)
	GetSubscription(ctx context.Context, organizationID string) (Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, provider, externalSubscriptionID string) (Subscription, error)
	// UpsertSubscription inserts or replaces the organization's subscription row.
	UpsertSubscription(ctx context.Context, s Subscription) error
}

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetOrganization(ctx context.Context, organizationID string) (Organization, error) {
	const q = `
SELECT id, name, COALESCE(telephony_account_id, ''), created_at
FROM organizations
WHERE id = $1
`
	var o Organization
	if err := s.db.QueryRowContext(ctx, q, organizationID).Scan(&o.ID, &o.Name, &o.TelephonyAccountID, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, err
	}
	return o, nil
}

const selectSubscription = `
SELECT organization_id, provider, external_subscription_id, plan_id, status, current_period_end, updated_at
FROM subscriptions
`

func (s *PostgresStore) GetSubscription(ctx context.Context, organizationID string) (Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx, selectSubscription+"WHERE organization_id = $1", organizationID))
}

func (s *PostgresStore) FindSubscriptionByExternalID(ctx context.Context, provider, externalSubscriptionID string) (Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx,
		selectSubscription+"WHERE provider = $1 AND external_subscription_id = $2", provider, externalSubscriptionID))
}

func scanSubscription(row *sql.Row) (Subscription, error) {
	var sub Subscription
	var periodEnd sql.NullTime
	if err := row.Scan(
		&sub.OrganizationID,
		&sub.Provider,
		&sub.ExternalSubscriptionID,
		&sub.PlanID,
		&sub.Status,
		&periodEnd,
		&sub.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.CurrentPeriodEnd = &t
	}
	return sub, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	const q = `
INSERT INTO subscriptions (
  organization_id, provider, external_subscription_id, plan_id, status, current_period_end, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (organization_id) DO UPDATE SET
  provider = EXCLUDED.provider,
  external_subscription_id = EXCLUDED.external_subscription_id,
  plan_id = CASE WHEN EXCLUDED.plan_id = '' THEN subscriptions.plan_id ELSE EXCLUDED.plan_id END,
  status = EXCLUDED.status,
  current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
  updated_at = EXCLUDED.updated_at
`
	var periodEnd sql.NullTime
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.CurrentPeriodEnd, Valid: true}
	}
	updated := sub.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		sub.OrganizationID,
		sub.Provider,
		sub.ExternalSubscriptionID,
		sub.PlanID,
		sub.Status,
		periodEnd,
		updated,
	)
	return err
}
