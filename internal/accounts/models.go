package accounts

import "time"

// Organization is the tenant. Read-only to the outreach core.
type Organization struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// TelephonyAccountID is the provider subaccount used for this organization's traffic.
	TelephonyAccountID string `json:"telephony_account_id,omitempty" db:"telephony_account_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Subscription is mutated only by billing events or explicit admin action.
type Subscription struct {
	OrganizationID         string             `json:"organization_id" db:"organization_id"`
	Provider               string             `json:"provider" db:"provider"`
	ExternalSubscriptionID string             `json:"external_subscription_id" db:"external_subscription_id"`
	PlanID                 string             `json:"plan_id" db:"plan_id"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty" db:"current_period_end"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionCanceled  SubscriptionStatus = "CANCELED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionSuspended, SubscriptionCanceled:
		return true
	default:
		return false
	}
}
