package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - All requests are organization-scoped; AccountID selects the provider subaccount.
// - Keep request/response types provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Sender
	AccountController
}

// Sender performs outbound sends.
type Sender interface {
	SendMessage(ctx context.Context, req MessageRequest) (SendResult, error)
	PlaceCall(ctx context.Context, req CallRequest) (SendResult, error)
}

// AccountController suspends and reactivates an organization's provider account.
// Both operations are idempotent.
type AccountController interface {
	SuspendAccount(ctx context.Context, accountID string) error
	ReactivateAccount(ctx context.Context, accountID string) error
}

// ErrRejected means the provider refused the request outright (4xx); retrying
// the same request will not help.
var ErrRejected = errors.New("telephony: request rejected by provider")

type MessageRequest struct {
	OrganizationID string `json:"organization_id"`
	// AccountID is the provider subaccount; empty uses the platform account.
	AccountID string `json:"account_id,omitempty"`

	// From and To are E.164.
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type CallRequest struct {
	OrganizationID string `json:"organization_id"`
	AccountID      string `json:"account_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	// Script is read to the callee.
	Script string `json:"script"`
}

// SendResult is what the provider returned for an accepted send.
type SendResult struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// InboundMessage is an SMS received from a contact.
type InboundMessage struct {
	ProviderID string    `json:"provider_id"`
	AccountID  string    `json:"account_id,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// StatusUpdate is a delivery/call status callback.
type StatusUpdate struct {
	ProviderID string `json:"provider_id"`
	AccountID  string `json:"account_id,omitempty"`
	Status     string `json:"status"`
	ErrorCode  string `json:"error_code,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	// DurationSeconds is set for completed calls.
	DurationSeconds int `json:"duration_seconds,omitempty"`
}
