package campaigns

import (
	"sort"
	"strings"
	"time"

	"outreach-platform/internal/phoneintel"
)

// Campaign is a tenant-scoped outreach campaign.
//
// Multi-tenant invariant: OrganizationID is required on every row.
type Campaign struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`

	Channel Channel `json:"channel" db:"channel"`
	// Body is the SMS text or the voice script read to the callee.
	Body string `json:"body" db:"body"`

	Status       Status      `json:"status" db:"status"`
	PausedReason PauseReason `json:"paused_reason,omitempty" db:"paused_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelVoice Channel = "VOICE"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
)

// PauseReason records why a campaign is PAUSED. Only billing reasons are
// eligible for automatic resume.
type PauseReason string

const (
	PauseManual               PauseReason = "MANUAL"
	PauseSubscriptionInactive PauseReason = "SUBSCRIPTION_INACTIVE"
	PauseWalletFrozen         PauseReason = "WALLET_FROZEN"
	PauseInsufficientBalance  PauseReason = "INSUFFICIENT_BALANCE"
)

func (r PauseReason) IsBilling() bool {
	switch r {
	case PauseSubscriptionInactive, PauseWalletFrozen, PauseInsufficientBalance:
		return true
	default:
		return false
	}
}

func (r PauseReason) Valid() bool {
	return r == PauseManual || r.IsBilling()
}

// Contact is one recipient of a campaign.
type Contact struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CampaignID     string `json:"campaign_id" db:"campaign_id"`

	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`

	// Phone is E.164 once classified.
	Phone        string               `json:"phone" db:"phone"`
	PhoneType    phoneintel.PhoneType `json:"phone_type,omitempty" db:"phone_type"`
	IsPhoneValid bool                 `json:"is_phone_valid" db:"is_phone_valid"`

	OptedOut bool `json:"opted_out" db:"opted_out"`
	// NextEligibleAt suppresses outreach until the given instant.
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty" db:"next_eligible_at"`

	// Timezone is an IANA name used for quiet hours; empty means UTC.
	Timezone string `json:"timezone,omitempty" db:"timezone"`
}

// Classified reports whether the phone has been through phone intelligence.
func (c Contact) Classified() bool {
	return c.PhoneType != ""
}

// Suppressed reports whether outreach to c is blocked at now. The suppression
// window in NextEligibleAt decides; an opt-out recorded without a window never
// lapses. OptedOut stays set after the window as history.
func (c Contact) Suppressed(now time.Time) bool {
	if c.NextEligibleAt != nil {
		return now.Before(*c.NextEligibleAt)
	}
	return c.OptedOut
}

// Location resolves Timezone, falling back to UTC.
func (c Contact) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SortContacts orders contacts by last name, first name, then id,
// case-insensitively. Dispatch cursors index into this order.
func SortContacts(cs []Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if c := strings.Compare(strings.ToLower(a.LastName), strings.ToLower(b.LastName)); c != 0 {
			return c < 0
		}
		if c := strings.Compare(strings.ToLower(a.FirstName), strings.ToLower(b.FirstName)); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}
