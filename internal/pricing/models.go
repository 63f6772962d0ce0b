package pricing

import (
	"time"

	"outreach-platform/internal/campaigns"
)

// Rates are organization-scoped with platform defaults (empty OrganizationID).
// Amounts are expressed in minor units (e.g., cents) using int64.

// Rate prices one channel to one destination country.
type Rate struct {
	ID string `json:"id" db:"id"`
	// OrganizationID is empty for the platform default rate.
	OrganizationID string `json:"organization_id,omitempty" db:"organization_id"`

	Channel campaigns.Channel `json:"channel" db:"channel"`

	// CountryISO2 is the destination country (e.g., "US", "GB"); "*" matches any.
	CountryISO2 string `json:"country_iso2" db:"country_iso2"`

	// PerSegmentMinor is charged per SMS segment.
	PerSegmentMinor int64 `json:"per_segment_minor" db:"per_segment_minor"`

	// RatePerMinuteMinor is the price per started billable minute of voice.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// effectiveAt reports whether r applies at t.
func (r Rate) effectiveAt(t time.Time) bool {
	if r.Status != RateStatusActive {
		return false
	}
	if t.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || t.Before(*r.EffectiveTo)
}

const anyCountry = "*"
