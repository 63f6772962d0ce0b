package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach-platform/internal/accounts"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/metrics"
	"outreach-platform/internal/telephony"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/logger"
)

// Ledger is the subset of the wallet ledger billing events drive.
type Ledger interface {
	Credit(ctx context.Context, organizationID string, amountMinor int64, referenceID string) (wallet.Result, error)
	Freeze(ctx context.Context, organizationID string) (wallet.Balance, error)
	Unfreeze(ctx context.Context, organizationID string) (wallet.Balance, error)
}

// CampaignControl pauses and resumes an organization's campaigns.
type CampaignControl interface {
	PauseCampaigns(ctx context.Context, organizationID string, reason campaigns.PauseReason) (int, error)
	ResumeCampaignsIfEligible(ctx context.Context, organizationID string) (int, error)
}

// Outcome labels how an event was handled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Processor applies payment provider events. Delivery is at-least-once:
// every step is idempotent, and an event is recorded as processed only after
// all of its steps succeeded.
type Processor struct {
	provider  string
	accounts  accounts.Store
	ledger    Ledger
	telephony telephony.AccountController
	campaigns CampaignControl
	processed ProcessedStore
	metrics   *metrics.Metrics

	clock func() time.Time
}

func NewProcessor(provider string, accts accounts.Store, ledger Ledger, tel telephony.AccountController, camps CampaignControl, processed ProcessedStore, m *metrics.Metrics) *Processor {
	return &Processor{
		provider:  provider,
		accounts:  accts,
		ledger:    ledger,
		telephony: tel,
		campaigns: camps,
		processed: processed,
		metrics:   m,
		clock:     time.Now,
	}
}

// ProcessPayload parses and applies one raw event.
func (p *Processor) ProcessPayload(ctx context.Context, body []byte) (Outcome, error) {
	ev, err := Parse(body)
	if err != nil {
		p.metrics.BillingEvent("unparsed", "malformed")
		return "", err
	}
	return p.Process(ctx, ev)
}

// Process applies ev unless it was already processed. A non-nil error means
// the event should be redelivered.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	log := logger.From(ctx).With("provider", p.provider, "event_id", ev.EventID(), "event_type", ev.EventType())
	ctx = logger.With(ctx, log)

	done, err := p.processed.IsProcessed(ctx, p.provider, ev.EventID())
	if err != nil {
		p.metrics.BillingEvent(ev.EventType(), "failed")
		return "", fmt.Errorf("check processed event: %w", err)
	}
	if done {
		log.Info("billing event already processed")
		p.metrics.BillingEvent(ev.EventType(), string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome, err := p.apply(ctx, ev)
	if err != nil {
		log.Error("billing event failed", "err", err)
		p.metrics.BillingEvent(ev.EventType(), "failed")
		return "", err
	}

	if err := p.processed.MarkProcessed(ctx, p.provider, ev.EventID(), ev.EventType(), p.clock().UTC()); err != nil {
		p.metrics.BillingEvent(ev.EventType(), "failed")
		return "", fmt.Errorf("mark event processed: %w", err)
	}
	log.Info("billing event processed", "outcome", outcome)
	p.metrics.BillingEvent(ev.EventType(), string(outcome))
	return outcome, nil
}

func (p *Processor) apply(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case SubscriptionActivated:
		return p.activate(ctx, e.SubscriptionChange)
	case SubscriptionSuspended:
		return p.deactivate(ctx, e.SubscriptionChange, accounts.SubscriptionSuspended)
	case SubscriptionCanceled:
		return p.deactivate(ctx, e.SubscriptionChange, accounts.SubscriptionCanceled)
	case SubscriptionUpdated:
		return p.update(ctx, e.SubscriptionChange)
	case PaymentCaptured:
		return p.paymentCaptured(ctx, e)
	case PaymentDenied:
		logger.From(ctx).Warn("payment denied", "organization_id", e.OrganizationID, "payment_id", e.PaymentID)
		return OutcomeApplied, nil
	default:
		logger.From(ctx).Info("ignoring billing event type")
		return OutcomeIgnored, nil
	}
}

// subscription resolves the stored subscription, or starts a new one when the
// event names its organization.
func (p *Processor) subscription(ctx context.Context, ch SubscriptionChange) (accounts.Subscription, bool, error) {
	sub, err := p.accounts.FindSubscriptionByExternalID(ctx, p.provider, ch.ExternalSubscriptionID)
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return accounts.Subscription{}, false, fmt.Errorf("find subscription: %w", err)
	}
	if ch.OrganizationID == "" {
		return accounts.Subscription{}, false, nil
	}
	if _, err := p.accounts.GetOrganization(ctx, ch.OrganizationID); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return accounts.Subscription{}, false, nil
		}
		return accounts.Subscription{}, false, fmt.Errorf("get organization: %w", err)
	}
	return accounts.Subscription{
		OrganizationID:         ch.OrganizationID,
		Provider:               p.provider,
		ExternalSubscriptionID: ch.ExternalSubscriptionID,
	}, true, nil
}

func (p *Processor) upsert(ctx context.Context, sub accounts.Subscription, ch SubscriptionChange, status accounts.SubscriptionStatus) error {
	sub.Status = status
	if ch.PlanID != "" {
		sub.PlanID = ch.PlanID
	}
	if ch.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ch.CurrentPeriodEnd
	}
	sub.UpdatedAt = p.clock().UTC()
	if err := p.accounts.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("set subscription %s: %w", status, err)
	}
	return nil
}

func (p *Processor) deactivate(ctx context.Context, ch SubscriptionChange, status accounts.SubscriptionStatus) (Outcome, error) {
	sub, ok, err := p.subscription(ctx, ch)
	if err != nil {
		return "", err
	}
	if !ok {
		logger.From(ctx).Warn("subscription not found", "external_subscription_id", ch.ExternalSubscriptionID)
		return OutcomeIgnored, nil
	}
	org := sub.OrganizationID
	log := logger.From(ctx).With("organization_id", org)

	var errs []error
	if err := p.upsert(ctx, sub, ch, status); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.ledger.Freeze(ctx, org); err != nil {
		errs = append(errs, fmt.Errorf("freeze wallet: %w", err))
	}
	if err := p.setTelephony(ctx, org, false); err != nil {
		errs = append(errs, err)
	}
	n, err := p.campaigns.PauseCampaigns(ctx, org, campaigns.PauseSubscriptionInactive)
	if err != nil {
		errs = append(errs, fmt.Errorf("pause campaigns: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	log.Info("subscription deactivated", "status", status, "campaigns_paused", n)
	return OutcomeApplied, nil
}

func (p *Processor) activate(ctx context.Context, ch SubscriptionChange) (Outcome, error) {
	sub, ok, err := p.subscription(ctx, ch)
	if err != nil {
		return "", err
	}
	if !ok {
		logger.From(ctx).Warn("subscription has no known organization", "external_subscription_id", ch.ExternalSubscriptionID)
		return OutcomeIgnored, nil
	}
	org := sub.OrganizationID

	var errs []error
	if err := p.upsert(ctx, sub, ch, accounts.SubscriptionActive); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.ledger.Unfreeze(ctx, org); err != nil {
		errs = append(errs, fmt.Errorf("unfreeze wallet: %w", err))
	}
	if err := p.setTelephony(ctx, org, true); err != nil {
		errs = append(errs, err)
	}
	n, err := p.campaigns.ResumeCampaignsIfEligible(ctx, org)
	if err != nil {
		errs = append(errs, fmt.Errorf("resume campaigns: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	logger.From(ctx).Info("subscription activated", "organization_id", org, "campaigns_resumed", n)
	return OutcomeApplied, nil
}

func (p *Processor) update(ctx context.Context, ch SubscriptionChange) (Outcome, error) {
	sub, err := p.accounts.FindSubscriptionByExternalID(ctx, p.provider, ch.ExternalSubscriptionID)
	if errors.Is(err, accounts.ErrNotFound) {
		logger.From(ctx).Warn("subscription not found", "external_subscription_id", ch.ExternalSubscriptionID)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("find subscription: %w", err)
	}
	if err := p.upsert(ctx, sub, ch, sub.Status); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (p *Processor) paymentCaptured(ctx context.Context, e PaymentCaptured) (Outcome, error) {
	log := logger.From(ctx).With("organization_id", e.OrganizationID, "payment_id", e.PaymentID)
	if e.OrganizationID == "" {
		log.Warn("payment has no organization")
		return OutcomeIgnored, nil
	}

	res, err := p.ledger.Credit(ctx, e.OrganizationID, e.AmountMinor, e.PaymentID)
	if err != nil {
		return "", fmt.Errorf("credit wallet: %w", err)
	}
	if res.Duplicate {
		log.Info("payment already credited")
	} else {
		log.Info("wallet credited", "amount_minor", e.AmountMinor, "currency", e.Currency, "balance_minor", res.BalanceAfter)
	}

	if _, err := p.campaigns.ResumeCampaignsIfEligible(ctx, e.OrganizationID); err != nil {
		return "", fmt.Errorf("resume campaigns: %w", err)
	}
	return OutcomeApplied, nil
}

func (p *Processor) setTelephony(ctx context.Context, organizationID string, active bool) error {
	if p.telephony == nil {
		return nil
	}
	org, err := p.accounts.GetOrganization(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("get organization: %w", err)
	}
	if org.TelephonyAccountID == "" {
		return nil
	}
	if active {
		err = p.telephony.ReactivateAccount(ctx, org.TelephonyAccountID)
	} else {
		err = p.telephony.SuspendAccount(ctx, org.TelephonyAccountID)
	}
	if err != nil {
		return fmt.Errorf("set telephony account active=%t: %w", active, err)
	}
	return nil
}
