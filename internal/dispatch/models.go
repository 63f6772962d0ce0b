package dispatch

import (
	"time"

	"outreach-platform/internal/routing"
)

// Identity is one sender number in an organization's pool.
type Identity struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	PhoneNumber    string          `json:"phone_number" db:"phone_number"`
	Purpose        routing.Purpose `json:"purpose" db:"purpose"`

	// CallsOrMessagesToday counts uses on UsageDate (UTC). A use on a later
	// day restarts the count at 1.
	CallsOrMessagesToday int        `json:"calls_or_messages_today" db:"calls_or_messages_today"`
	UsageDate            time.Time  `json:"usage_date" db:"usage_date"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`

	Status IdentityStatus `json:"status" db:"status"`
}

type IdentityStatus string

const (
	IdentityActive  IdentityStatus = "ACTIVE"
	IdentityPaused  IdentityStatus = "PAUSED"
	IdentityBlocked IdentityStatus = "BLOCKED"
)

// UsedOn returns the number of uses counted for the UTC day containing now.
func (i Identity) UsedOn(now time.Time) int {
	if !sameUTCDay(i.UsageDate, now) {
		return 0
	}
	return i.CallsOrMessagesToday
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Job drains one campaign's contacts.
//
// State machine: QUEUED -> RUNNING -> (COMPLETED | STOPPED | PAUSED | FAILED);
// PAUSED -> RUNNING via Resume.
type Job struct {
	ID             string    `json:"id" db:"id"`
	CampaignID     string    `json:"campaign_id" db:"campaign_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Status         JobStatus `json:"status" db:"status"`

	// Cursor is the index of the next unprocessed contact in sorted order.
	Cursor  int `json:"cursor" db:"cursor"`
	Sent    int `json:"sent" db:"sent"`
	Failed  int `json:"failed" db:"failed"`
	Skipped int `json:"skipped" db:"skipped"`

	PausedReason  string `json:"paused_reason,omitempty" db:"paused_reason"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobPaused    JobStatus = "PAUSED"
	JobStopped   JobStatus = "STOPPED"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether the job can never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStopped || s == JobCompleted || s == JobFailed
}

// Job pause and failure reasons.
const (
	ReasonManual              = "manual"
	ReasonCampaignPaused      = "campaign paused"
	ReasonShutdown            = "shutdown"
	ReasonNoEligibleIdentity  = "no eligible identities"
	ReasonNoEligibleContacts  = "no eligible contacts"
	ReasonLedgerUnavailable   = "ledger unavailable"
	ReasonPricingUnavailable  = "pricing unavailable"
	ReasonTelephonyAccountErr = "telephony account unavailable"
)
