package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for compliance events.
//
// It MUST be append-only.
// No Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List returns events created in [from, to), oldest first.
	List(ctx context.Context, organizationID string, from, to time.Time) ([]Event, error)
	// HasContactEvent reports whether any event of kind exists for the contact.
	HasContactEvent(ctx context.Context, contactID string, kind Kind) (bool, error)
}

// Service appends compliance events.
//
// Callers on the send path treat logging as best-effort: a failed append is
// logged by the caller and never blocks a send.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.OrganizationID == "" {
		return ErrInvalidEvent
	}
	if e.Kind == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, organizationID string, from, to time.Time) ([]Event, error) {
	if organizationID == "" || !to.After(from) {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, organizationID, from, to)
}

// HasConsent reports whether the contact has a recorded CONSENT event.
func (s *Service) HasConsent(ctx context.Context, contactID string) (bool, error) {
	if contactID == "" {
		return false, nil
	}
	return s.repo.HasContactEvent(ctx, contactID, KindConsent)
}

// LogConsent records that a contact agreed to be called.
func (s *Service) LogConsent(ctx context.Context, organizationID, contactID, source string) error {
	payload, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		ContactID:      contactID,
		Kind:           KindConsent,
		Payload:        payload,
	})
}

// LogAttempt records one CALL or MESSAGE attempt.
func (s *Service) LogAttempt(ctx context.Context, kind Kind, organizationID, campaignID, contactID string, a Attempt) error {
	if kind != KindCall && kind != KindMessage {
		return ErrInvalidEvent
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		CampaignID:     campaignID,
		ContactID:      contactID,
		Kind:           kind,
		Payload:        payload,
	})
}

// LogOptOut records a contact opting out.
func (s *Service) LogOptOut(ctx context.Context, organizationID, campaignID, contactID string, o OptOut) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		CampaignID:     campaignID,
		ContactID:      contactID,
		Kind:           KindOptOut,
		Payload:        payload,
	})
}

// LogAdminAction records an admin action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, organizationID, actorUserID, actorRole, ip, message string, metadata any) error {
	payload, err := json.Marshal(AdminAction{Message: message, Metadata: metadata})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		Kind:           KindAdminAction,
		ActorUserID:    actorUserID,
		ActorRole:      actorRole,
		IPAddress:      ip,
		Payload:        payload,
	})
}
