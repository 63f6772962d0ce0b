package accounts

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_GetSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "provider", "external_subscription_id", "plan_id", "status", "current_period_end", "updated_at"}).
			AddRow("org-1", "paypal", "I-123", "pro", "ACTIVE", nil, now))

	sub, err := NewPostgresStore(db).GetSubscription(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, sub.Status)
	assert.Nil(t, sub.CurrentPeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganizationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "telephony_account_id", "created_at"}))

	_, err = NewPostgresStore(db).GetOrganization(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertKeepsPlan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertSubscription(ctx, Subscription{OrganizationID: "org-1", PlanID: "pro", Status: SubscriptionActive}))
	require.NoError(t, s.UpsertSubscription(ctx, Subscription{OrganizationID: "org-1", Status: SubscriptionSuspended}))

	sub, err := s.GetSubscription(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, SubscriptionSuspended, sub.Status)
}
