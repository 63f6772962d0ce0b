package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"outreach-platform/internal/accounts"
	"outreach-platform/internal/audit"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/config"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/phoneintel"
	"outreach-platform/internal/pricing"
	"outreach-platform/internal/routing"
	"outreach-platform/internal/telephony"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instead of sleeping. With block set, Sleep parks until
// the context ends and signals sleeping. onSleep runs once, on the next Sleep.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	block    bool
	sleeping chan struct{}
	onSleep  func()
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, sleeping: make(chan struct{}, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	hook := c.onSleep
	c.onSleep = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	block := c.block
	if !block && d > 0 {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()
	if block {
		select {
		case c.sleeping <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *fakeClock) hookNextSleep(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSleep = fn
}

func (c *fakeClock) setBlock(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = b
}

const testOrg = "org-1"

type fixture struct {
	sched    *Scheduler
	clock    *fakeClock
	camps    *campaigns.MemoryStore
	ids      *MemoryIdentityStore
	jobs     *MemoryJobStore
	wallet   *wallet.Service
	accts    *accounts.MemoryStore
	events   *audit.MemoryRepo
	sender   *telephony.LoopbackProvider
	cfg      config.DispatchConfig
	quiet    routing.QuietHours
	limiter  SlotLimiter
	start    time.Time
	campaign campaigns.Campaign
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		DailyCap:        100,
		CooldownMin:     60 * time.Second,
		CooldownMax:     180 * time.Second,
		RampInitial:     1,
		RampStep:        1,
		RampInterval:    30 * time.Minute,
		RampCeiling:     10,
		RampWindow:      time.Minute,
		MaxSendAttempts: 3,
		RetryBackoff:    2 * time.Second,
	}
}

func newFixture(t *testing.T, channel campaigns.Channel) *fixture {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	f := &fixture{
		clock:  newFakeClock(start),
		camps:  campaigns.NewMemoryStore(),
		ids:    NewMemoryIdentityStore(),
		jobs:   NewMemoryJobStore(),
		wallet: wallet.NewService(wallet.NewMemoryStore(), nil),
		accts:  accounts.NewMemoryStore(),
		events: audit.NewMemoryRepo(),
		sender: telephony.NewLoopbackProvider(),
		cfg:    testConfig(),
		start:  start,
	}
	f.accts.PutOrganization(accounts.Organization{ID: testOrg, Name: "Acme", TelephonyAccountID: "AC-sub-1"})
	require.NoError(t, f.accts.UpsertSubscription(ctx, accounts.Subscription{
		OrganizationID:         testOrg,
		Provider:               "paypal",
		ExternalSubscriptionID: "I-1",
		Status:                 accounts.SubscriptionActive,
	}))
	_, err := f.wallet.Credit(ctx, testOrg, 1000, "seed")
	require.NoError(t, err)

	f.campaign = campaigns.Campaign{
		ID:             "camp-1",
		OrganizationID: testOrg,
		Name:           "Fall outreach",
		Channel:        channel,
		Body:           "Hello from Acme",
		Status:         campaigns.StatusDraft,
	}
	f.camps.Put(f.campaign)
	return f
}

func (f *fixture) build() *Scheduler {
	rates := pricing.NewMemoryRepo(
		pricing.Rate{ID: "sms", Channel: campaigns.ChannelSMS, CountryISO2: "*", PerSegmentMinor: 10, Status: pricing.RateStatusActive},
		pricing.Rate{ID: "voice", Channel: campaigns.ChannelVoice, CountryISO2: "*", RatePerMinuteMinor: 20, BillingIncrementSeconds: 60, Status: pricing.RateStatusActive},
	)
	s := NewScheduler(Deps{
		Campaigns:  f.camps,
		Identities: f.ids,
		Jobs:       f.jobs,
		Gate:       eligibility.NewGate(f.accts, f.wallet),
		Ledger:     f.wallet,
		Pricer:     pricing.NewService(rates),
		Sender:     f.sender,
		Accounts:   f.accts,
		Events:     audit.NewService(f.events),
		Limiter:    f.limiter,
	}, f.cfg, f.quiet)
	s.clock = f.clock
	f.sched = s
	return s
}

func (f *fixture) identity(id, phone string, purpose routing.Purpose) {
	f.ids.Put(Identity{ID: id, OrganizationID: testOrg, PhoneNumber: phone, Purpose: purpose, Status: IdentityActive})
}

func (f *fixture) contact(id, first, last, phone string, pt phoneintel.PhoneType) {
	f.camps.PutContact(campaigns.Contact{
		ID:             id,
		OrganizationID: testOrg,
		CampaignID:     f.campaign.ID,
		FirstName:      first,
		LastName:       last,
		Phone:          phone,
		PhoneType:      pt,
		IsPhoneValid:   true,
	})
}

func (f *fixture) wait(t *testing.T, jobID string) Job {
	t.Helper()
	require.Eventually(t, func() bool { return !f.sched.isRunning(jobID) }, 5*time.Second, 2*time.Millisecond)
	j, err := f.sched.Job(context.Background(), jobID)
	require.NoError(t, err)
	return j
}

func (f *fixture) campaignStatus(t *testing.T) campaigns.Campaign {
	t.Helper()
	c, err := f.camps.Get(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) debits(t *testing.T) []wallet.Transaction {
	t.Helper()
	txns, err := f.wallet.ListTransactions(context.Background(), testOrg, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	var out []wallet.Transaction
	for _, tx := range txns {
		if tx.Kind == wallet.KindDebit {
			out = append(out, tx)
		}
	}
	return out
}

func TestStart_SendsInContactOrderAndDebits(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-3", "Bob", "Baker", "+12015550103", phoneintel.PhoneMobile)
	f.contact("c-1", "Zed", "Adams", "+12015550101", phoneintel.PhoneMobile)
	f.contact("c-2", "amy", "baker", "+12015550102", phoneintel.PhoneMobile)
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, job.Status)

	job = f.wait(t, job.ID)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 3, job.Sent)
	assert.Equal(t, 3, job.Cursor)

	var to []string
	for _, m := range f.sender.Messages() {
		to = append(to, m.To)
		assert.Equal(t, "AC-sub-1", m.AccountID)
		assert.Equal(t, "Hello from Acme", m.Body)
	}
	assert.Equal(t, []string{"+12015550101", "+12015550102", "+12015550103"}, to)

	debits := f.debits(t)
	require.Len(t, debits, 3)
	assert.Equal(t, RefPrefix+job.ID+":c-1", debits[0].ReferenceID)
	assert.Equal(t, int64(-10), debits[0].AmountMinor)

	assert.Len(t, f.events.EventsOfKind(audit.KindMessage), 3)
	assert.Equal(t, campaigns.StatusCompleted, f.campaignStatus(t).Status)
}

func TestStart_OptOutDuringWaitSkipsPickedContact(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	f.contact("c-2", "b", "B", "+12015550102", phoneintel.PhoneMobile)
	s := f.build()
	ctx := context.Background()

	// The first wait is the ramp pause before c-2, after c-2 was picked.
	f.clock.hookNextSleep(func() {
		_, err := f.camps.MarkOptedOut(ctx, "c-2", f.start.Add(365*24*time.Hour))
		assert.NoError(t, err)
	})

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 1, job.Sent)
	assert.Equal(t, 1, job.Skipped)
	require.Len(t, f.sender.Messages(), 1)
	assert.Equal(t, "+12015550101", f.sender.Messages()[0].To)
	assert.Len(t, f.debits(t), 1)
}

func TestStart_SkipsSuppressedAndUnroutableContacts(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "Ann", "Adams", "+12015550101", phoneintel.PhoneMobile)
	f.contact("c-2", "Ben", "Brown", "+12015550102", phoneintel.PhoneLandline)
	f.camps.PutContact(campaigns.Contact{
		ID: "c-3", OrganizationID: testOrg, CampaignID: f.campaign.ID,
		FirstName: "Cat", LastName: "Clark", Phone: "+12015550103",
		PhoneType: phoneintel.PhoneMobile, IsPhoneValid: true, OptedOut: true,
	})
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 1, job.Sent)
	assert.Equal(t, 2, job.Skipped)
	require.Len(t, f.sender.Messages(), 1)
	assert.Equal(t, "+12015550101", f.sender.Messages()[0].To)
}

func TestStart_RotatesIdentitiesRoundRobinAndHonorsCooldown(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-b", "+12015550002", routing.PurposeSMSOutreach)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	for i, last := range []string{"A", "B", "C", "D"} {
		f.contact("c-"+last, "x", last, "+1201555010"+string(rune('1'+i)), phoneintel.PhoneMobile)
	}
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)
	require.Equal(t, JobCompleted, job.Status)

	var from []string
	for _, m := range f.sender.Messages() {
		from = append(from, m.From)
	}
	assert.Equal(t, []string{"+12015550001", "+12015550002", "+12015550001", "+12015550002"}, from)

	a, err := f.ids.Get(context.Background(), "id-a")
	require.NoError(t, err)
	assert.Equal(t, 2, a.CallsOrMessagesToday)

	// The third send reused id-a, so at least CooldownMin passed since its first use.
	assert.GreaterOrEqual(t, f.clock.Now().Sub(f.start), f.cfg.CooldownMin)
}

func TestStart_FailsWhenEveryIdentityIsCapped(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.cfg.DailyCap = 1
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.identity("id-b", "+12015550002", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	f.contact("c-2", "b", "B", "+12015550102", phoneintel.PhoneMobile)
	f.contact("c-3", "c", "C", "+12015550103", phoneintel.PhoneMobile)
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, ReasonNoEligibleIdentity, job.FailureReason)
	assert.Equal(t, 2, job.Sent)
	assert.Equal(t, 2, job.Cursor)
	assert.Len(t, f.sender.Messages(), 2)
}

func TestStart_FailsWithNoEligibleContacts(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneLandline)
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, ReasonNoEligibleContacts, job.FailureReason)
	assert.Empty(t, f.sender.Messages())
}

func TestStart_GateDenialPausesJobAndCampaign(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	f.contact("c-2", "b", "B", "+12015550102", phoneintel.PhoneMobile)
	s := f.build()
	ctx := context.Background()

	// Leave exactly one send's worth of balance.
	_, err := f.wallet.Debit(ctx, testOrg, 990, "drain")
	require.NoError(t, err)

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobPaused, job.Status)
	assert.Equal(t, "Insufficient balance", job.PausedReason)
	assert.Equal(t, 1, job.Cursor)
	c := f.campaignStatus(t)
	assert.Equal(t, campaigns.StatusPaused, c.Status)
	assert.Equal(t, campaigns.PauseInsufficientBalance, c.PausedReason)

	_, err = f.wallet.Credit(ctx, testOrg, 100, "topup")
	require.NoError(t, err)
	_, err = s.Resume(ctx, job.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 2, job.Sent)
	assert.Len(t, f.sender.Messages(), 2)
	assert.Equal(t, campaigns.StatusCompleted, f.campaignStatus(t).Status)
}

type recordingPauser struct {
	mu      sync.Mutex
	reasons []campaigns.PauseReason
	camps   campaigns.Store
}

func (p *recordingPauser) PauseCampaign(ctx context.Context, campaignID string, reason campaigns.PauseReason) error {
	p.mu.Lock()
	p.reasons = append(p.reasons, reason)
	p.mu.Unlock()
	_, err := p.camps.Transition(ctx, campaignID, campaigns.StatusRunning, campaigns.StatusPaused, reason)
	return err
}

func TestStart_FrozenWalletRoutesThroughPauser(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	p := &recordingPauser{camps: f.camps}
	s.SetCampaignPauser(p)
	ctx := context.Background()

	_, err := f.wallet.Freeze(ctx, testOrg)
	require.NoError(t, err)

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobPaused, job.Status)
	assert.Equal(t, "Wallet is frozen", job.PausedReason)
	assert.Equal(t, []campaigns.PauseReason{campaigns.PauseWalletFrozen}, p.reasons)
	assert.Empty(t, f.sender.Messages())
}

func TestStart_RetriesTransientSendFailures(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	f.sender.Fail = func(string) error { return errors.New("carrier timeout") }
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 0, job.Sent)

	attempts := f.events.EventsOfKind(audit.KindMessage)
	require.Len(t, attempts, 3)
	for _, e := range attempts {
		assert.True(t, strings.Contains(string(e.Payload), `"outcome":"failed"`))
	}
	assert.Empty(t, f.debits(t))

	id, err := f.ids.Get(context.Background(), "id-a")
	require.NoError(t, err)
	assert.Equal(t, 3, id.CallsOrMessagesToday)
}

func TestStart_RejectedSendIsNotRetried(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	f.sender.Fail = func(string) error { return telephony.ErrRejected }
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, 1, job.Failed)
	assert.Len(t, f.events.EventsOfKind(audit.KindMessage), 1)
}

func TestStart_VoiceUsesConsentForMobiles(t *testing.T) {
	f := newFixture(t, campaigns.ChannelVoice)
	f.identity("cold", "+12015550001", routing.PurposeLandlineColdCalling)
	f.identity("warm", "+12015550002", routing.PurposeWarmCalling)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneLandline)
	f.contact("c-2", "b", "B", "+12015550102", phoneintel.PhoneMobile)
	f.contact("c-3", "c", "C", "+12015550103", phoneintel.PhoneMobile)
	ctx := context.Background()
	require.NoError(t, audit.NewService(f.events).LogConsent(ctx, testOrg, "c-2", "web_form"))
	s := f.build()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, 2, job.Sent)
	assert.Equal(t, 1, job.Skipped)
	calls := f.sender.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "+12015550001", calls[0].From)
	assert.Equal(t, "+12015550002", calls[1].From)
	assert.Equal(t, "Hello from Acme", calls[1].Script)
	assert.Len(t, f.events.EventsOfKind(audit.KindCall), 2)
}

func TestStart_WaitsForQuietHoursToEnd(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	require.Equal(t, JobCompleted, job.Status)
	assert.GreaterOrEqual(t, f.clock.Now().Hour(), 14)
}

func TestPause_StopsBeforeNextSend(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping

	require.NoError(t, s.Pause(ctx, job.ID, ""))
	job, err = s.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPaused, job.Status)
	assert.Equal(t, ReasonManual, job.PausedReason)
	assert.Equal(t, 0, job.Cursor)
	assert.Empty(t, f.sender.Messages())
	c := f.campaignStatus(t)
	assert.Equal(t, campaigns.StatusPaused, c.Status)
	assert.Equal(t, campaigns.PauseManual, c.PausedReason)

	f.clock.setBlock(false)
	_, err = s.Resume(ctx, job.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Len(t, f.sender.Messages(), 1)
}

func TestStop_EndsJobAndCampaign(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping

	require.NoError(t, s.Stop(ctx, job.ID))
	job, err = s.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStopped, job.Status)
	assert.Equal(t, campaigns.StatusStopped, f.campaignStatus(t).Status)

	_, err = s.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotPaused)
}

func TestPauseCampaign_CancelsRunningJob(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping

	_, err = f.camps.Transition(ctx, f.campaign.ID, campaigns.StatusRunning, campaigns.StatusPaused, campaigns.PauseSubscriptionInactive)
	require.NoError(t, err)
	s.PauseCampaign(f.campaign.ID)

	job = f.wait(t, job.ID)
	assert.Equal(t, JobPaused, job.Status)
	assert.Equal(t, ReasonCampaignPaused, job.PausedReason)

	f.clock.setBlock(false)
	_, err = f.camps.Transition(ctx, f.campaign.ID, campaigns.StatusPaused, campaigns.StatusRunning, "")
	require.NoError(t, err)
	require.NoError(t, s.ResumeCampaign(ctx, f.campaign.ID))
	job = f.wait(t, job.ID)
	assert.Equal(t, JobCompleted, job.Status)
}

func TestShutdown_PausesRunningJobs(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping

	require.NoError(t, s.Shutdown(ctx))
	job, err = s.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPaused, job.Status)
	assert.Equal(t, ReasonShutdown, job.PausedReason)
	assert.Equal(t, campaigns.StatusRunning, f.campaignStatus(t).Status)
}

func TestStart_EnforcesPerOrganizationJobCap(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.limiter = utils.NewConcurrencyLimiter(rdb, "dispatch:jobs", 1, time.Hour)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	second := f.campaign
	second.ID = "camp-2"
	f.camps.Put(second)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	_, err = s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping

	_, err = s.Start(ctx, second.ID)
	assert.ErrorIs(t, err, ErrTooManyJobs)
	c, err := f.camps.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusDraft, c.Status)

	require.NoError(t, s.Shutdown(ctx))
	ok, err := f.limiter.Acquire(ctx, testOrg)
	require.NoError(t, err)
	assert.True(t, ok, "slot should be released when the job exits")
}

func TestResume_FullOrganizationLeavesCampaignPaused(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, campaigns.ChannelSMS)
	f.quiet = routing.QuietHours{Start: 9, End: 14}
	f.limiter = utils.NewConcurrencyLimiter(rdb, "dispatch:jobs", 1, time.Hour)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	f.clock.setBlock(true)
	ctx := context.Background()

	job, err := s.Start(ctx, f.campaign.ID)
	require.NoError(t, err)
	<-f.clock.sleeping
	require.NoError(t, s.Pause(ctx, job.ID, ""))

	// Another job elsewhere holds the organization's only slot.
	ok, err := f.limiter.Acquire(ctx, testOrg)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrTooManyJobs)
	c := f.campaignStatus(t)
	assert.Equal(t, campaigns.StatusPaused, c.Status)
	assert.Equal(t, campaigns.PauseManual, c.PausedReason)
	job, err = s.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPaused, job.Status)

	require.NoError(t, f.limiter.Release(ctx, testOrg))
	f.clock.setBlock(false)
	_, err = s.Resume(ctx, job.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)
	assert.Equal(t, JobCompleted, job.Status)
}

type failingCreateJobs struct {
	*MemoryJobStore
}

func (failingCreateJobs) Create(ctx context.Context, j Job) error {
	return errors.New("db down")
}

func TestStart_RevertsCampaignWhenJobCannotBeCreated(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.contact("c-1", "a", "A", "+12015550101", phoneintel.PhoneMobile)
	s := f.build()
	s.deps.Jobs = failingCreateJobs{f.jobs}

	_, err := s.Start(context.Background(), f.campaign.ID)
	require.ErrorContains(t, err, "db down")
	assert.Equal(t, campaigns.StatusDraft, f.campaignStatus(t).Status)
	assert.Empty(t, f.sender.Messages())

	s.deps.Jobs = f.jobs
	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, f.wait(t, job.ID).Status)
}

func TestStart_RejectsFinishedCampaign(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.campaign.Status = campaigns.StatusCompleted
	f.camps.Put(f.campaign)
	s := f.build()

	_, err := s.Start(context.Background(), f.campaign.ID)
	assert.ErrorIs(t, err, ErrCampaignNotStartable)
}

type stubClassifier struct {
	calls [][]string
}

func (c *stubClassifier) Classify(ctx context.Context, phones []string) ([]phoneintel.Result, error) {
	c.calls = append(c.calls, phones)
	out := make([]phoneintel.Result, len(phones))
	for i, p := range phones {
		out[i] = phoneintel.Result{Input: p, Lookup: phoneintel.Lookup{Phone: p, IsValid: true, PhoneType: phoneintel.PhoneMobile}}
	}
	return out, nil
}

func TestStart_ClassifiesUnclassifiedContacts(t *testing.T) {
	f := newFixture(t, campaigns.ChannelSMS)
	f.identity("id-a", "+12015550001", routing.PurposeSMSOutreach)
	f.camps.PutContact(campaigns.Contact{
		ID: "c-1", OrganizationID: testOrg, CampaignID: f.campaign.ID,
		FirstName: "a", LastName: "A", Phone: "+12015550101",
	})
	cls := &stubClassifier{}
	s := f.build()
	s.deps.Classifier = cls

	job, err := s.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	assert.Equal(t, 1, job.Sent)
	require.Len(t, cls.calls, 1)
	c, err := f.camps.GetContact(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, phoneintel.PhoneMobile, c.PhoneType)
}
