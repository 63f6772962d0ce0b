package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach-platform/internal/audit"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/phoneintel"
	"outreach-platform/internal/pricing"
	"outreach-platform/internal/routing"
	"outreach-platform/internal/telephony"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/logger"
)

var errNoIdentity = errors.New("no eligible identity")

// maxClaimRaces bounds how often a send re-picks an identity after losing an
// atomic claim to another scheduler.
const maxClaimRaces = 5

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeFailed
	outcomeSkipped
)

// step is the result of processing one contact. A zero outcome means the
// contact was not processed and the cursor stays put.
type step struct {
	outcome outcome
	halt    JobStatus
	reason  string
}

// runner drives one job. It is owned by a single goroutine.
type runner struct {
	s         *Scheduler
	rj        *runningJob
	job       Job
	campaign  campaigns.Campaign
	accountID string
	ramp      *rampGate
	rotation  map[routing.Purpose]int
}

func newRunner(s *Scheduler, rj *runningJob, job Job) *runner {
	return &runner{s: s, rj: rj, job: job, rotation: map[routing.Purpose]int{}}
}

// loop processes contacts from the cursor. An empty status means the job was
// cancelled.
func (r *runner) loop(ctx context.Context) (JobStatus, string) {
	s := r.s
	log := logger.From(ctx)

	// Routing below reads the campaign channel.
	if st, ok := r.checkCampaign(ctx); !ok {
		return st.halt, st.reason
	}

	org, err := s.deps.Accounts.GetOrganization(ctx, r.job.OrganizationID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ""
		}
		log.Error("load organization", "error", err)
		return JobPaused, ReasonTelephonyAccountErr
	}
	r.accountID = org.TelephonyAccountID

	contacts, err := s.deps.Campaigns.ListContacts(ctx, r.job.CampaignID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ""
		}
		log.Error("list contacts", "error", err)
		return JobPaused, "contacts unavailable"
	}
	campaigns.SortContacts(contacts)
	r.classify(ctx, contacts)

	fresh := r.job.Cursor == 0 && r.job.Sent+r.job.Failed+r.job.Skipped == 0
	if fresh && !r.anyEligible(ctx, contacts) {
		return JobFailed, ReasonNoEligibleContacts
	}

	r.ramp = newRampGate(Ramp{
		Initial:  s.cfg.RampInitial,
		Step:     s.cfg.RampStep,
		Interval: s.cfg.RampInterval,
		Ceiling:  s.cfg.RampCeiling,
		Window:   s.cfg.RampWindow,
	}, s.clock, jobStart(r.job))

	for r.job.Cursor < len(contacts) {
		if ctx.Err() != nil {
			return "", ""
		}
		st := r.process(ctx, contacts[r.job.Cursor])
		switch st.outcome {
		case outcomeSent:
			r.job.Sent++
		case outcomeFailed:
			r.job.Failed++
		case outcomeSkipped:
			r.job.Skipped++
		}
		if st.outcome != outcomeNone {
			r.job.Cursor++
			r.persist(ctx)
		}
		if st.halt != "" {
			return st.halt, st.reason
		}
		if st.outcome == outcomeNone {
			return "", ""
		}
	}
	return JobCompleted, ""
}

// classify runs phone intelligence over contacts that were never classified.
// Unknown results are used for this run only and not persisted.
func (r *runner) classify(ctx context.Context, contacts []campaigns.Contact) {
	if r.s.deps.Classifier == nil {
		return
	}
	var idx []int
	var phones []string
	for i, c := range contacts {
		if !c.Classified() {
			idx = append(idx, i)
			phones = append(phones, c.Phone)
		}
	}
	if len(phones) == 0 {
		return
	}
	results, err := r.s.deps.Classifier.Classify(ctx, phones)
	if err != nil {
		logger.From(ctx).Warn("classify contacts", "error", err, "count", len(phones))
		return
	}
	for n, i := range idx {
		res := results[n]
		c := &contacts[i]
		c.PhoneType, c.IsPhoneValid = res.PhoneType, res.IsValid
		if res.Phone != "" {
			c.Phone = res.Phone
		}
		if res.PhoneType == phoneintel.PhoneUnknown {
			continue
		}
		if err := r.s.deps.Campaigns.SetPhoneClassification(ctx, c.ID, c.Phone, res.PhoneType, res.IsValid); err != nil {
			logger.From(ctx).Warn("store phone classification", "error", err, "contact_id", c.ID)
		}
	}
}

func (r *runner) anyEligible(ctx context.Context, contacts []campaigns.Contact) bool {
	now := r.s.clock.Now()
	for _, c := range contacts {
		if c.Suppressed(now) {
			continue
		}
		if d, err := r.route(ctx, c); err == nil && d.Allowed {
			return true
		}
	}
	return false
}

func (r *runner) process(ctx context.Context, snapshot campaigns.Contact) step {
	s := r.s
	log := logger.From(ctx).With("contact_id", snapshot.ID)

	if st, ok := r.checkCampaign(ctx); !ok {
		return st
	}
	d, err := r.route(ctx, snapshot)
	if err != nil {
		return r.errStep(ctx, err, "consent lookup unavailable")
	}
	if !d.Allowed || snapshot.Suppressed(s.clock.Now()) {
		return step{outcome: outcomeSkipped}
	}

	if err := r.waitQuietHours(ctx, snapshot.Location()); err != nil {
		return step{}
	}
	if err := r.ramp.Wait(ctx); err != nil {
		return step{}
	}

	purpose := d.Purpose
	var (
		contact  campaigns.Contact
		quote    pricing.Quote
		identity Identity
	)
	for race := 0; ; race++ {
		if race >= maxClaimRaces {
			return step{halt: JobFailed, reason: ReasonNoEligibleIdentity}
		}
		candidate, cooldown, err := r.nextIdentity(ctx, purpose)
		if errors.Is(err, errNoIdentity) {
			return step{halt: JobFailed, reason: ReasonNoEligibleIdentity}
		}
		if err != nil {
			return r.errStep(ctx, err, "identity pool unavailable")
		}

		// Everything below is re-read immediately before the send.
		if st, ok := r.checkCampaign(ctx); !ok {
			return st
		}
		contact, err = s.deps.Campaigns.GetContact(ctx, snapshot.ID)
		if errors.Is(err, campaigns.ErrContactNotFound) {
			return step{outcome: outcomeSkipped}
		}
		if err != nil {
			return r.errStep(ctx, err, "contact unavailable")
		}
		if !contact.Classified() {
			contact.Phone, contact.PhoneType, contact.IsPhoneValid = snapshot.Phone, snapshot.PhoneType, snapshot.IsPhoneValid
		}
		if contact.Suppressed(s.clock.Now()) {
			log.Info("contact suppressed before send")
			return step{outcome: outcomeSkipped}
		}
		d, err := r.route(ctx, contact)
		if err != nil {
			return r.errStep(ctx, err, "consent lookup unavailable")
		}
		if !d.Allowed {
			return step{outcome: outcomeSkipped}
		}
		if d.Purpose != purpose {
			purpose = d.Purpose
			continue
		}

		quote, err = s.deps.Pricer.Quote(ctx, pricing.QuoteRequest{
			OrganizationID: r.job.OrganizationID,
			Channel:        r.campaign.Channel,
			CountryISO2:    phoneintel.Region(contact.Phone),
			Body:           r.campaign.Body,
			At:             s.clock.Now(),
		})
		if err != nil {
			return r.errStep(ctx, err, ReasonPricingUnavailable)
		}
		decision, err := s.deps.Gate.CanSend(ctx, r.job.OrganizationID, quote.TotalMinor)
		if err != nil {
			return r.errStep(ctx, err, "eligibility unavailable")
		}
		if !decision.Allowed {
			log.Warn("send denied", "code", decision.Code, "reason", decision.Reason)
			s.pauseForBilling(context.WithoutCancel(ctx), r.rj, pauseReasonFor(decision.Code), decision.Reason)
			return step{halt: JobPaused, reason: decision.Reason}
		}

		identity, err = s.deps.Identities.RecordUse(ctx, candidate.ID, s.clock.Now(), s.cfg.DailyCap, cooldown)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDailyCapReached) || errors.Is(err, ErrCoolingDown) || errors.Is(err, ErrIdentityInactive) {
			log.Debug("identity claim lost", "identity_id", candidate.ID, "error", err)
			continue
		}
		return r.errStep(ctx, err, "identity pool unavailable")
	}

	return r.send(ctx, contact, identity, quote)
}

// send delivers to the contact with identity, retrying transient failures,
// then debits the quoted cost. The provider call and everything after it run
// to completion even if the job is cancelled meanwhile.
func (r *runner) send(ctx context.Context, contact campaigns.Contact, identity Identity, quote pricing.Quote) step {
	s := r.s
	bg := context.WithoutCancel(ctx)
	log := logger.From(ctx).With("contact_id", contact.ID, "identity_id", identity.ID)

	var sendErr error
	for attempt := 1; ; attempt++ {
		started := s.clock.Now()
		res, err := r.deliver(bg, contact, identity)
		ended := s.clock.Now()
		sendErr = err
		r.recordAttempt(bg, contact, identity, attempt, res, err, started, ended)

		if err == nil || errors.Is(err, telephony.ErrRejected) || attempt >= s.cfg.MaxSendAttempts {
			break
		}
		log.Warn("send attempt failed", "error", err, "attempt", attempt, "to", logger.RedactPhone(contact.Phone))
		if err := s.clock.Sleep(ctx, s.cfg.RetryBackoff); err != nil {
			break
		}
		if _, err := s.deps.Identities.RecordUse(bg, identity.ID, s.clock.Now(), s.cfg.DailyCap, 0); err != nil {
			log.Warn("identity unavailable for retry", "error", err)
			break
		}
	}
	if sendErr != nil {
		log.Warn("send failed", "error", sendErr, "to", logger.RedactPhone(contact.Phone))
		return step{outcome: outcomeFailed}
	}

	if quote.TotalMinor <= 0 {
		return step{outcome: outcomeSent}
	}
	ref := RefPrefix + r.job.ID + ":" + contact.ID
	_, err := s.deps.Ledger.Debit(bg, r.job.OrganizationID, quote.TotalMinor, ref)
	switch {
	case err == nil:
		return step{outcome: outcomeSent}
	case errors.Is(err, wallet.ErrInsufficientFunds):
		s.pauseForBilling(bg, r.rj, campaigns.PauseInsufficientBalance, "Insufficient balance")
		return step{outcome: outcomeSent, halt: JobPaused, reason: "Insufficient balance"}
	case errors.Is(err, wallet.ErrFrozen):
		s.pauseForBilling(bg, r.rj, campaigns.PauseWalletFrozen, "Wallet is frozen")
		return step{outcome: outcomeSent, halt: JobPaused, reason: "Wallet is frozen"}
	default:
		log.Error("debit after send", "error", err, "reference_id", ref, "amount_minor", quote.TotalMinor)
		return step{outcome: outcomeSent, halt: JobPaused, reason: ReasonLedgerUnavailable}
	}
}

func (r *runner) deliver(ctx context.Context, contact campaigns.Contact, identity Identity) (telephony.SendResult, error) {
	switch r.campaign.Channel {
	case campaigns.ChannelSMS:
		return r.s.deps.Sender.SendMessage(ctx, telephony.MessageRequest{
			OrganizationID: r.job.OrganizationID,
			AccountID:      r.accountID,
			From:           identity.PhoneNumber,
			To:             contact.Phone,
			Body:           r.campaign.Body,
		})
	case campaigns.ChannelVoice:
		return r.s.deps.Sender.PlaceCall(ctx, telephony.CallRequest{
			OrganizationID: r.job.OrganizationID,
			AccountID:      r.accountID,
			From:           identity.PhoneNumber,
			To:             contact.Phone,
			Script:         r.campaign.Body,
		})
	default:
		return telephony.SendResult{}, fmt.Errorf("%w: unknown channel %q", telephony.ErrRejected, r.campaign.Channel)
	}
}

func (r *runner) recordAttempt(ctx context.Context, contact campaigns.Contact, identity Identity, attempt int, res telephony.SendResult, err error, started, ended time.Time) {
	kind := audit.KindMessage
	if r.campaign.Channel == campaigns.ChannelVoice {
		kind = audit.KindCall
	}
	a := audit.Attempt{
		From:       identity.PhoneNumber,
		To:         contact.Phone,
		ProviderID: res.ProviderID,
		Attempt:    attempt,
		Outcome:    audit.OutcomeSent,
		JobID:      r.job.ID,
		StartedAt:  started.UTC(),
		EndedAt:    ended.UTC(),
	}
	if err != nil {
		a.Outcome = audit.OutcomeFailed
		a.Error = err.Error()
	}
	r.s.deps.Metrics.Send(strings.ToLower(string(r.campaign.Channel)), a.Outcome, ended.Sub(started))
	if err := r.s.deps.Events.LogAttempt(ctx, kind, r.job.OrganizationID, r.job.CampaignID, contact.ID, a); err != nil {
		logger.From(ctx).Error("log send attempt", "error", err, "contact_id", contact.ID)
	}
}

// nextIdentity picks the next usable identity in round-robin order and waits
// out the rest of its cooldown. The claim itself happens later.
func (r *runner) nextIdentity(ctx context.Context, purpose routing.Purpose) (Identity, time.Duration, error) {
	s := r.s
	pool, err := s.deps.Identities.ListIdentities(ctx, r.job.OrganizationID, purpose)
	if err != nil {
		return Identity{}, 0, err
	}
	active := pool[:0]
	for _, id := range pool {
		if id.Status == IdentityActive {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return Identity{}, 0, errNoIdentity
	}

	now := s.clock.Now()
	start := r.rotation[purpose] % len(active)
	for i := range len(active) {
		id := active[(start+i)%len(active)]
		if id.UsedOn(now) >= s.cfg.DailyCap {
			continue
		}
		r.rotation[purpose] = (start + i + 1) % len(active)

		cooldown := s.rng.between(s.cfg.CooldownMin, s.cfg.CooldownMax)
		if id.LastUsedAt != nil {
			if wait := cooldown - now.Sub(*id.LastUsedAt); wait > 0 {
				if err := s.clock.Sleep(ctx, wait); err != nil {
					return Identity{}, 0, err
				}
			}
		}
		return id, cooldown, nil
	}
	return Identity{}, 0, errNoIdentity
}

func (r *runner) waitQuietHours(ctx context.Context, loc *time.Location) error {
	for {
		now := r.s.clock.Now()
		if r.s.quiet.Open(now, loc) {
			return nil
		}
		next := r.s.quiet.NextOpen(now, loc)
		logger.From(ctx).Debug("waiting for quiet hours to end", "until", next)
		if err := r.s.clock.Sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

// checkCampaign reports whether the campaign is still RUNNING.
func (r *runner) checkCampaign(ctx context.Context) (step, bool) {
	c, err := r.s.deps.Campaigns.Get(ctx, r.job.CampaignID)
	if err != nil {
		return r.errStep(ctx, err, "campaign unavailable"), false
	}
	r.campaign = c
	switch c.Status {
	case campaigns.StatusRunning:
		return step{}, true
	case campaigns.StatusPaused:
		return step{halt: JobPaused, reason: ReasonCampaignPaused}, false
	default:
		return step{halt: JobStopped, reason: "campaign " + strings.ToLower(string(c.Status))}, false
	}
}

func (r *runner) route(ctx context.Context, c campaigns.Contact) (routing.Decision, error) {
	consent := false
	if r.campaign.Channel == campaigns.ChannelVoice && c.PhoneType == phoneintel.PhoneMobile {
		var err error
		if consent, err = r.s.deps.Events.HasConsent(ctx, c.ID); err != nil {
			return routing.Decision{}, err
		}
	}
	return routing.Route(routing.RouteInput{
		Channel:    r.campaign.Channel,
		PhoneType:  c.PhoneType,
		IsValid:    c.IsPhoneValid,
		HasConsent: consent,
	}), nil
}

// errStep pauses the job on an infrastructure error, unless the error came
// from cancellation.
func (r *runner) errStep(ctx context.Context, err error, reason string) step {
	if ctx.Err() != nil {
		return step{}
	}
	logger.From(ctx).Error("dispatch step failed", "error", err, "reason", reason)
	return step{halt: JobPaused, reason: reason}
}

func (r *runner) persist(ctx context.Context) {
	r.job.UpdatedAt = r.s.clock.Now().UTC()
	if err := r.s.deps.Jobs.Update(context.WithoutCancel(ctx), r.job); err != nil {
		logger.From(ctx).Error("persist job progress", "error", err, "cursor", r.job.Cursor)
	}
}

func jobStart(j Job) time.Time {
	if j.StartedAt == nil {
		return time.Time{}
	}
	return *j.StartedAt
}

func pauseReasonFor(code eligibility.Code) campaigns.PauseReason {
	switch code {
	case eligibility.CodeWalletFrozen:
		return campaigns.PauseWalletFrozen
	case eligibility.CodeInsufficientBalance:
		return campaigns.PauseInsufficientBalance
	default:
		return campaigns.PauseSubscriptionInactive
	}
}
