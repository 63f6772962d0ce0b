package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach-platform/internal/audit"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/config"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/metrics"
	"outreach-platform/pkg/logger"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidReason   = errors.New("invalid pause reason")
	ErrSuppressed      = errors.New("contact is opted out")
)

// JobControl is the dispatch capability the controller drives. Jobs re-read
// campaign status before every send, so these calls only shorten the window.
type JobControl interface {
	PauseCampaign(campaignID string)
	ResumeCampaign(ctx context.Context, campaignID string) error
	CancelContact(ctx context.Context, contactID string)
}

// Checker re-verifies billing state before campaigns resume.
type Checker interface {
	CanSend(ctx context.Context, organizationID string, estimatedCostMinor int64) (eligibility.Decision, error)
}

type EventLog interface {
	LogOptOut(ctx context.Context, organizationID, campaignID, contactID string, o audit.OptOut) error
	LogConsent(ctx context.Context, organizationID, contactID, source string) error
}

// Controller owns campaign pause/resume and contact opt-out.
type Controller struct {
	campaigns campaigns.Store
	gate      Checker
	events    EventLog
	jobs      JobControl
	metrics   *metrics.Metrics

	suppression time.Duration
	clock       func() time.Time
}

func NewController(store campaigns.Store, gate Checker, events EventLog, jobs JobControl, cfg config.ComplianceConfig, m *metrics.Metrics) *Controller {
	return &Controller{
		campaigns:   store,
		gate:        gate,
		events:      events,
		jobs:        jobs,
		metrics:     m,
		suppression: cfg.SuppressionWindow,
		clock:       time.Now,
	}
}

// CampaignStatus is the externally visible state of a campaign.
type CampaignStatus struct {
	CampaignID     string                `json:"campaign_id"`
	OrganizationID string                `json:"organization_id"`
	Status         campaigns.Status      `json:"status"`
	PausedReason   campaigns.PauseReason `json:"paused_reason,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// HandleOptOut marks the contact opted out for the suppression window and
// records an OPT_OUT event. The contact must belong to organizationID.
func (c *Controller) HandleOptOut(ctx context.Context, contactID, organizationID string) (campaigns.Contact, error) {
	if contactID == "" || organizationID == "" {
		return campaigns.Contact{}, ErrInvalidArgument
	}
	contact, err := c.campaigns.GetContact(ctx, contactID)
	if err != nil {
		return campaigns.Contact{}, err
	}
	if contact.OrganizationID != organizationID {
		return campaigns.Contact{}, campaigns.ErrContactNotFound
	}
	return c.optOut(ctx, contact, audit.OptOut{Source: "api"})
}

func (c *Controller) optOut(ctx context.Context, contact campaigns.Contact, o audit.OptOut) (campaigns.Contact, error) {
	until := c.clock().UTC().Add(c.suppression)
	updated, err := c.campaigns.MarkOptedOut(ctx, contact.ID, until)
	if err != nil {
		return campaigns.Contact{}, fmt.Errorf("mark opted out: %w", err)
	}
	if c.jobs != nil {
		c.jobs.CancelContact(ctx, contact.ID)
	}

	o.Phone = contact.Phone
	o.Until = until
	if err := c.events.LogOptOut(ctx, contact.OrganizationID, contact.CampaignID, contact.ID, o); err != nil {
		return updated, fmt.Errorf("log opt-out: %w", err)
	}
	logger.From(ctx).Info("contact opted out",
		"contact_id", contact.ID, "organization_id", contact.OrganizationID,
		"phone", logger.RedactPhone(contact.Phone), "source", o.Source, "until", until)
	return updated, nil
}

// RecordConsent records the contact's agreement to warm calls. Contacts
// that opted out cannot consent through this path.
func (c *Controller) RecordConsent(ctx context.Context, contactID, organizationID, source string) error {
	if contactID == "" || organizationID == "" {
		return ErrInvalidArgument
	}
	contact, err := c.campaigns.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	if contact.OrganizationID != organizationID {
		return campaigns.ErrContactNotFound
	}
	if contact.Suppressed(c.clock()) {
		return ErrSuppressed
	}
	if source == "" {
		source = "api"
	}
	if err := c.events.LogConsent(ctx, organizationID, contactID, source); err != nil {
		return fmt.Errorf("log consent: %w", err)
	}
	logger.From(ctx).Info("contact consent recorded", "contact_id", contactID, "organization_id", organizationID, "source", source)
	return nil
}

// PauseCampaigns moves every RUNNING campaign of the organization to PAUSED
// and cancels their jobs. Campaigns in any other status are left alone, so
// repeated calls are harmless. It returns how many campaigns it paused.
func (c *Controller) PauseCampaigns(ctx context.Context, organizationID string, reason campaigns.PauseReason) (int, error) {
	if organizationID == "" {
		return 0, ErrInvalidArgument
	}
	if !reason.Valid() {
		return 0, ErrInvalidReason
	}
	running, err := c.campaigns.ListByOrganization(ctx, organizationID, campaigns.StatusRunning)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, camp := range running {
		ok, err := c.pause(ctx, camp.ID, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("pause campaign %s: %w", camp.ID, err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		logger.From(ctx).Info("campaigns paused", "organization_id", organizationID, "reason", reason, "count", n)
	}
	return n, errors.Join(errs...)
}

// PauseCampaign pauses one RUNNING campaign. Pausing a campaign that is not
// running is a no-op.
func (c *Controller) PauseCampaign(ctx context.Context, campaignID string, reason campaigns.PauseReason) error {
	if campaignID == "" {
		return ErrInvalidArgument
	}
	if !reason.Valid() {
		return ErrInvalidReason
	}
	_, err := c.pause(ctx, campaignID, reason)
	return err
}

func (c *Controller) pause(ctx context.Context, campaignID string, reason campaigns.PauseReason) (bool, error) {
	ok, err := c.campaigns.Transition(ctx, campaignID, campaigns.StatusRunning, campaigns.StatusPaused, reason)
	if err != nil {
		return false, err
	}
	if ok {
		c.metrics.CampaignTransition("paused", string(reason), 1)
	}
	// Cancel even when the transition lost a race: the job may still be running.
	if c.jobs != nil {
		c.jobs.PauseCampaign(campaignID)
	}
	return ok, nil
}

// ResumeCampaignsIfEligible resumes campaigns that were paused for a billing
// reason, but only when the organization can send again: subscription ACTIVE,
// wallet unfrozen and a positive balance, all read now. Manually paused
// campaigns are never resumed here.
func (c *Controller) ResumeCampaignsIfEligible(ctx context.Context, organizationID string) (int, error) {
	if organizationID == "" {
		return 0, ErrInvalidArgument
	}
	log := logger.From(ctx).With("organization_id", organizationID)

	// A one-unit estimate turns "balance >= estimate" into "balance > 0".
	d, err := c.gate.CanSend(ctx, organizationID, 1)
	if err != nil {
		return 0, err
	}
	if !d.Allowed {
		log.Info("campaigns stay paused", "code", d.Code, "reason", d.Reason)
		return 0, nil
	}

	paused, err := c.campaigns.ListByOrganization(ctx, organizationID, campaigns.StatusPaused)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, camp := range paused {
		if !camp.PausedReason.IsBilling() {
			continue
		}
		ok, err := c.campaigns.Transition(ctx, camp.ID, campaigns.StatusPaused, campaigns.StatusRunning, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("resume campaign %s: %w", camp.ID, err))
			continue
		}
		if !ok {
			continue
		}
		if c.jobs != nil {
			if err := c.jobs.ResumeCampaign(ctx, camp.ID); err != nil {
				errs = append(errs, fmt.Errorf("resume dispatch for campaign %s: %w", camp.ID, err))
				// Back to PAUSED with the billing reason so the next resume finds it.
				if _, rerr := c.campaigns.Transition(ctx, camp.ID, campaigns.StatusRunning, campaigns.StatusPaused, camp.PausedReason); rerr != nil {
					errs = append(errs, fmt.Errorf("re-pause campaign %s: %w", camp.ID, rerr))
				}
				continue
			}
		}
		n++
		c.metrics.CampaignTransition("resumed", string(camp.PausedReason), 1)
	}
	if n > 0 {
		log.Info("campaigns resumed", "count", n)
	}
	return n, errors.Join(errs...)
}

func (c *Controller) GetCampaignStatus(ctx context.Context, campaignID string) (CampaignStatus, error) {
	camp, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		return CampaignStatus{}, err
	}
	return CampaignStatus{
		CampaignID:     camp.ID,
		OrganizationID: camp.OrganizationID,
		Status:         camp.Status,
		PausedReason:   camp.PausedReason,
		UpdatedAt:      camp.UpdatedAt,
	}, nil
}
