package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"outreach-platform/internal/accounts"
	"outreach-platform/internal/audit"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/config"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/metrics"
	"outreach-platform/internal/phoneintel"
	"outreach-platform/internal/pricing"
	"outreach-platform/internal/routing"
	"outreach-platform/internal/telephony"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrCampaignNotStartable = errors.New("campaign cannot be started from its current status")
	ErrCampaignNotRunning   = errors.New("campaign is not running")
	ErrJobActive            = errors.New("a dispatch job is already running for this campaign")
	ErrJobNotPaused         = errors.New("dispatch job is not paused")
	ErrJobFinished          = errors.New("dispatch job already finished")
	ErrTooManyJobs          = errors.New("organization reached its concurrent job limit")
	ErrShuttingDown         = errors.New("scheduler is shutting down")
)

// RefPrefix prefixes the ledger reference of every dispatch debit.
const RefPrefix = "dispatch:"

// EligibilityChecker is the send gate.
type EligibilityChecker interface {
	CanSend(ctx context.Context, organizationID string, estimatedCostMinor int64) (eligibility.Decision, error)
}

type Ledger interface {
	Debit(ctx context.Context, organizationID string, amountMinor int64, referenceID string) (wallet.Result, error)
}

type Pricer interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

type AccountLookup interface {
	GetOrganization(ctx context.Context, organizationID string) (accounts.Organization, error)
}

// Classifier fills in phone type for contacts that were never classified.
type Classifier interface {
	Classify(ctx context.Context, phones []string) ([]phoneintel.Result, error)
}

// EventLog is the compliance event capability the scheduler needs.
type EventLog interface {
	HasConsent(ctx context.Context, contactID string) (bool, error)
	LogAttempt(ctx context.Context, kind audit.Kind, organizationID, campaignID, contactID string, a audit.Attempt) error
}

// SlotLimiter caps concurrent jobs per organization.
type SlotLimiter interface {
	Acquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// CampaignPauser pauses a campaign for a billing reason. When unset the
// scheduler transitions the campaign itself.
type CampaignPauser interface {
	PauseCampaign(ctx context.Context, campaignID string, reason campaigns.PauseReason) error
}

type Deps struct {
	Campaigns  campaigns.Store
	Identities IdentityStore
	Jobs       JobStore
	Gate       EligibilityChecker
	Ledger     Ledger
	Pricer     Pricer
	Sender     telephony.Sender
	Accounts   AccountLookup
	Events     EventLog

	// Optional.
	Classifier Classifier
	Limiter    SlotLimiter
	Metrics    *metrics.Metrics
}

// Scheduler runs dispatch jobs, one goroutine per job.
type Scheduler struct {
	deps   Deps
	pauser CampaignPauser
	cfg    config.DispatchConfig
	quiet  routing.QuietHours

	clock Clock
	rng   *lockedRand
	newID func() string

	mu      sync.Mutex
	running map[string]*runningJob
	closed  bool
}

type runningJob struct {
	jobID          string
	campaignID     string
	organizationID string
	cancel         context.CancelFunc
	done           chan struct{}

	// stop is the final status requested by Pause, Stop or Shutdown. The first
	// request wins. Guarded by Scheduler.mu.
	stopStatus JobStatus
	stopReason string
}

func NewScheduler(deps Deps, cfg config.DispatchConfig, quiet routing.QuietHours) *Scheduler {
	if cfg.MaxSendAttempts < 1 {
		cfg.MaxSendAttempts = 1
	}
	if cfg.DailyCap < 1 {
		cfg.DailyCap = 1
	}
	return &Scheduler{
		deps:    deps,
		cfg:     cfg,
		quiet:   quiet,
		clock:   realClock{},
		rng:     newLockedRand(time.Now().UnixNano()),
		newID:   uuid.NewString,
		running: map[string]*runningJob{},
	}
}

// SetCampaignPauser routes billing pauses through p.
func (s *Scheduler) SetCampaignPauser(p CampaignPauser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauser = p
}

// Start creates a job for the campaign and runs it.
func (s *Scheduler) Start(ctx context.Context, campaignID string) (Job, error) {
	c, err := s.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return Job{}, err
	}
	switch c.Status {
	case campaigns.StatusDraft, campaigns.StatusScheduled, campaigns.StatusQueued:
	default:
		return Job{}, ErrCampaignNotStartable
	}
	if s.campaignRunning(campaignID) {
		return Job{}, ErrJobActive
	}

	if err := s.acquireSlot(ctx, c.OrganizationID); err != nil {
		return Job{}, err
	}
	ok, err := s.deps.Campaigns.Transition(ctx, campaignID, c.Status, campaigns.StatusRunning, "")
	if err != nil || !ok {
		s.releaseSlot(ctx, c.OrganizationID)
		if err == nil {
			err = ErrCampaignNotStartable
		}
		return Job{}, err
	}

	now := s.clock.Now().UTC()
	job := Job{
		ID:             s.newID(),
		CampaignID:     campaignID,
		OrganizationID: c.OrganizationID,
		Status:         JobQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		s.releaseSlot(ctx, c.OrganizationID)
		s.revertStart(ctx, c)
		return Job{}, err
	}
	logger.From(ctx).Info("dispatch job created", "job_id", job.ID, "campaign_id", campaignID)
	out, err := s.launch(ctx, job)
	if err != nil {
		s.revertStart(ctx, c)
	}
	return out, err
}

// revertStart puts a campaign whose job never launched back in its prior status.
func (s *Scheduler) revertStart(ctx context.Context, c campaigns.Campaign) {
	if _, err := s.deps.Campaigns.Transition(context.WithoutCancel(ctx), c.ID, campaigns.StatusRunning, c.Status, ""); err != nil {
		logger.From(ctx).Error("revert campaign start", "error", err, "campaign_id", c.ID, "status", c.Status)
	}
}

// Resume continues a paused job from its cursor.
func (s *Scheduler) Resume(ctx context.Context, jobID string) (Job, error) {
	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if s.isRunning(jobID) || s.campaignRunning(job.CampaignID) {
		return Job{}, ErrJobActive
	}
	if job.Status != JobPaused {
		return Job{}, ErrJobNotPaused
	}

	c, err := s.deps.Campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		return Job{}, err
	}
	if c.Status != campaigns.StatusPaused && c.Status != campaigns.StatusRunning {
		return Job{}, ErrCampaignNotRunning
	}

	// The slot comes first so a full organization leaves the campaign PAUSED.
	if err := s.acquireSlot(ctx, job.OrganizationID); err != nil {
		return Job{}, err
	}
	if c.Status == campaigns.StatusPaused {
		ok, err := s.deps.Campaigns.Transition(ctx, c.ID, campaigns.StatusPaused, campaigns.StatusRunning, "")
		if err != nil || !ok {
			s.releaseSlot(ctx, job.OrganizationID)
			if err == nil {
				err = ErrCampaignNotRunning
			}
			return Job{}, err
		}
	}
	out, err := s.launch(ctx, job)
	if err != nil && c.Status == campaigns.StatusPaused {
		s.transitionCampaign(context.WithoutCancel(ctx), c.ID, campaigns.StatusRunning, campaigns.StatusPaused, c.PausedReason)
	}
	return out, err
}

// Pause stops the job before its next send and records it PAUSED. The
// campaign is paused with a manual reason.
func (s *Scheduler) Pause(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = ReasonManual
	}
	if err := s.halt(ctx, jobID, JobPaused, reason); err != nil {
		return err
	}
	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	s.transitionCampaign(ctx, job.CampaignID, campaigns.StatusRunning, campaigns.StatusPaused, campaigns.PauseManual)
	return nil
}

// Stop ends the job and the campaign for good.
func (s *Scheduler) Stop(ctx context.Context, jobID string) error {
	if err := s.halt(ctx, jobID, JobStopped, "stopped"); err != nil {
		return err
	}
	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	for _, from := range []campaigns.Status{campaigns.StatusRunning, campaigns.StatusPaused} {
		s.transitionCampaign(ctx, job.CampaignID, from, campaigns.StatusStopped, "")
	}
	return nil
}

// PauseCampaign cancels the campaign's running job, if any. It does not wait
// for the job to exit.
func (s *Scheduler) PauseCampaign(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rj := range s.running {
		if rj.campaignID == campaignID {
			s.requestStopLocked(rj, JobPaused, ReasonCampaignPaused)
		}
	}
}

// ResumeCampaign resumes the campaign's most recent paused job. A campaign
// with no paused job is left alone.
func (s *Scheduler) ResumeCampaign(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	var stopping *runningJob
	for _, rj := range s.running {
		if rj.campaignID == campaignID {
			if rj.stopStatus == "" {
				s.mu.Unlock()
				return nil
			}
			stopping = rj
		}
	}
	s.mu.Unlock()
	if stopping != nil {
		select {
		case <-stopping.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	jobs, err := s.deps.Jobs.ListByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	last := jobs[len(jobs)-1]
	if last.Status != JobPaused {
		return nil
	}
	_, err = s.Resume(ctx, last.ID)
	if errors.Is(err, ErrJobActive) {
		return nil
	}
	return err
}

// CancelContact is called when a contact opts out. Jobs re-read the contact
// immediately before each send, so nothing is queued that needs cancelling.
func (s *Scheduler) CancelContact(ctx context.Context, contactID string) {
	logger.From(ctx).Debug("contact cancelled; next send re-reads eligibility", "contact_id", contactID)
}

func (s *Scheduler) Job(ctx context.Context, jobID string) (Job, error) {
	return s.deps.Jobs.Get(ctx, jobID)
}

// Shutdown pauses every running job with reason "shutdown" and waits for them
// to persist, or for ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var done []chan struct{}
	for _, rj := range s.running {
		s.requestStopLocked(rj, JobPaused, ReasonShutdown)
		done = append(done, rj.done)
	}
	s.mu.Unlock()

	for _, d := range done {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// launch marks the job RUNNING and starts its goroutine. The caller holds an
// organization slot, which the goroutine releases.
func (s *Scheduler) launch(ctx context.Context, job Job) (Job, error) {
	now := s.clock.Now().UTC()
	job.Status = JobRunning
	job.PausedReason = ""
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseSlot(ctx, job.OrganizationID)
		return Job{}, ErrShuttingDown
	}
	if err := s.deps.Jobs.Update(ctx, job); err != nil {
		s.mu.Unlock()
		s.releaseSlot(ctx, job.OrganizationID)
		return Job{}, err
	}
	l := logger.From(ctx).With("job_id", job.ID, "campaign_id", job.CampaignID, "organization_id", job.OrganizationID)
	jobCtx, cancel := context.WithCancel(logger.With(context.WithoutCancel(ctx), l))
	rj := &runningJob{
		jobID:          job.ID,
		campaignID:     job.CampaignID,
		organizationID: job.OrganizationID,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	s.running[job.ID] = rj
	s.mu.Unlock()

	s.deps.Metrics.JobStarted()
	go s.run(jobCtx, rj, job)
	return job, nil
}

func (s *Scheduler) run(ctx context.Context, rj *runningJob, job Job) {
	defer close(rj.done)
	defer rj.cancel()

	r := newRunner(s, rj, job)
	status, reason := r.loop(ctx)
	s.finish(ctx, rj, r.job, status, reason, ctx.Err() != nil)
}

// finish persists the final job state. A job that exited through cancellation
// takes the status requested by whoever cancelled it.
func (s *Scheduler) finish(ctx context.Context, rj *runningJob, job Job, status JobStatus, reason string, cancelled bool) {
	bg := context.WithoutCancel(ctx)
	log := logger.From(ctx)

	s.mu.Lock()
	if cancelled && status != JobCompleted {
		status, reason = rj.stopStatus, rj.stopReason
		if status == "" {
			status, reason = JobPaused, ReasonShutdown
		}
	}
	s.mu.Unlock()

	job.Status = status
	job.PausedReason, job.FailureReason = "", ""
	switch status {
	case JobPaused:
		job.PausedReason = reason
	case JobFailed, JobStopped:
		job.FailureReason = reason
	}
	job.UpdatedAt = s.clock.Now().UTC()
	if err := s.deps.Jobs.Update(bg, job); err != nil {
		log.Error("persist dispatch job", "error", err, "status", status)
	}

	switch status {
	case JobCompleted:
		s.transitionCampaign(bg, job.CampaignID, campaigns.StatusRunning, campaigns.StatusCompleted, "")
	case JobFailed:
		s.transitionCampaign(bg, job.CampaignID, campaigns.StatusRunning, campaigns.StatusStopped, "")
	}

	s.releaseSlot(bg, job.OrganizationID)
	s.deps.Metrics.JobFinished()

	s.mu.Lock()
	delete(s.running, rj.jobID)
	s.mu.Unlock()
	log.Info("dispatch job finished",
		"status", status, "reason", reason,
		"sent", job.Sent, "failed", job.Failed, "skipped", job.Skipped, "cursor", job.Cursor)
}

// halt requests a final status for a job and waits for it to exit. Jobs that
// are not running in this process are updated in the store directly.
func (s *Scheduler) halt(ctx context.Context, jobID string, status JobStatus, reason string) error {
	s.mu.Lock()
	rj, ok := s.running[jobID]
	if ok {
		s.requestStopLocked(rj, status, reason)
	}
	s.mu.Unlock()

	if ok {
		select {
		case <-rj.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == status {
		return nil
	}
	if job.Status.Terminal() || (status == JobPaused && job.Status != JobRunning && job.Status != JobQueued) {
		return ErrJobFinished
	}
	job.Status = status
	if status == JobPaused {
		job.PausedReason = reason
	} else {
		job.FailureReason = reason
	}
	job.UpdatedAt = s.clock.Now().UTC()
	return s.deps.Jobs.Update(ctx, job)
}

func (s *Scheduler) requestStopLocked(rj *runningJob, status JobStatus, reason string) {
	if rj.stopStatus == "" {
		rj.stopStatus, rj.stopReason = status, reason
	}
	rj.cancel()
}

// pauseForBilling records the job's own stop before pausing the campaign, so
// the cancellation that follows keeps the billing reason.
func (s *Scheduler) pauseForBilling(ctx context.Context, rj *runningJob, reason campaigns.PauseReason, detail string) {
	s.mu.Lock()
	if rj.stopStatus == "" {
		rj.stopStatus, rj.stopReason = JobPaused, detail
	}
	pauser := s.pauser
	s.mu.Unlock()

	if pauser != nil {
		if err := pauser.PauseCampaign(ctx, rj.campaignID, reason); err != nil {
			logger.From(ctx).Error("pause campaign", "error", err, "reason", reason)
		}
		return
	}
	s.transitionCampaign(ctx, rj.campaignID, campaigns.StatusRunning, campaigns.StatusPaused, reason)
}

func (s *Scheduler) transitionCampaign(ctx context.Context, campaignID string, from, to campaigns.Status, reason campaigns.PauseReason) {
	ok, err := s.deps.Campaigns.Transition(ctx, campaignID, from, to, reason)
	if err != nil {
		logger.From(ctx).Error("campaign transition", "error", err, "campaign_id", campaignID, "from", from, "to", to)
		return
	}
	if ok && to == campaigns.StatusPaused {
		s.deps.Metrics.CampaignTransition("paused", string(reason), 1)
	}
}

func (s *Scheduler) isRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	return ok
}

func (s *Scheduler) campaignRunning(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rj := range s.running {
		if rj.campaignID == campaignID {
			return true
		}
	}
	return false
}

func (s *Scheduler) acquireSlot(ctx context.Context, organizationID string) error {
	if s.deps.Limiter == nil {
		return nil
	}
	ok, err := s.deps.Limiter.Acquire(ctx, organizationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTooManyJobs
	}
	return nil
}

func (s *Scheduler) releaseSlot(ctx context.Context, organizationID string) {
	if s.deps.Limiter == nil {
		return
	}
	if err := s.deps.Limiter.Release(context.WithoutCancel(ctx), organizationID); err != nil {
		logger.From(ctx).Warn("release job slot", "error", err, "organization_id", organizationID)
	}
}
