package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only compliance log record.
//
// Invariants:
// - Events are never updated or deleted.
// - organization_id is required for tenancy isolation.
// - Payload is JSON; its shape depends on Kind.
type Event struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	ContactID      string `json:"contact_id,omitempty" db:"contact_id"`
	CampaignID     string `json:"campaign_id,omitempty" db:"campaign_id"`

	Kind Kind `json:"kind" db:"kind"`

	// ActorUserID and ActorRole are set for admin actions. ActorRole may include hidden roles.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Kind string

const (
	KindCall        Kind = "CALL"
	KindMessage     Kind = "MESSAGE"
	KindConsent     Kind = "CONSENT"
	KindOptOut      Kind = "OPT_OUT"
	KindAgreement   Kind = "AGREEMENT"
	KindAdminAction Kind = "ADMIN_ACTION"
)

// Attempt is the payload of CALL and MESSAGE events.
type Attempt struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	ProviderID string    `json:"provider_id,omitempty"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// OptOut is the payload of OPT_OUT events.
type OptOut struct {
	Source  string    `json:"source"`
	Keyword string    `json:"keyword,omitempty"`
	Phone   string    `json:"phone,omitempty"`
	Until   time.Time `json:"until"`
}

// AdminAction is the payload of ADMIN_ACTION events.
type AdminAction struct {
	Message  string `json:"message"`
	Metadata any    `json:"metadata,omitempty"`
}
