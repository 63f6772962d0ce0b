package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"outreach-platform/internal/audit"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/logger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Reference prefixes used to categorize ledger entries.
const (
	RefPrefixDispatch = "dispatch:"
	RefPrefixAdmin    = "admin:"
)

// LedgerSource lists immutable wallet transactions.
type LedgerSource interface {
	ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]wallet.Transaction, error)
}

// EventSource lists immutable compliance events.
type EventSource interface {
	List(ctx context.Context, organizationID string, from, to time.Time) ([]audit.Event, error)
}

// Service builds read-only summaries.
//
// IMPORTANT:
// - Every query is organization-filtered.
// - Only immutable sources are read (wallet ledger, compliance log).
type Service struct {
	ledger LedgerSource
	events EventSource
}

func NewService(ledger LedgerSource, events EventSource) *Service {
	return &Service{ledger: ledger, events: events}
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.OrganizationID == "" || !req.Range.valid() {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.ledger == nil {
		return SpendSummary{}, errors.New("reporting: ledger not configured")
	}

	txns, err := s.ledger.ListTransactions(ctx, req.OrganizationID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{OrganizationID: req.OrganizationID}
	for _, t := range txns {
		if t.AmountMinor > 0 {
			out.TotalCreditMinor += t.AmountMinor
		} else {
			out.TotalDebitMinor += -t.AmountMinor
		}

		switch {
		case strings.HasPrefix(t.ReferenceID, RefPrefixAdmin):
			out.AdminAdjustMinor += t.AmountMinor
		case t.Kind == wallet.KindDebit:
			if strings.HasPrefix(t.ReferenceID, RefPrefixDispatch) {
				out.UsageDebitMinor += -t.AmountMinor
			}
		case t.Kind == wallet.KindCredit:
			out.PaymentCreditMinor += t.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	return out, nil
}

func (s *Service) OutreachSummary(ctx context.Context, req OutreachSummaryRequest) (OutreachSummary, error) {
	if req.OrganizationID == "" || !req.Range.valid() {
		return OutreachSummary{}, ErrInvalidRequest
	}
	if s.events == nil {
		return OutreachSummary{}, errors.New("reporting: event source not configured")
	}

	events, err := s.events.List(ctx, req.OrganizationID, req.Range.From, req.Range.To)
	if err != nil {
		return OutreachSummary{}, err
	}

	out := OutreachSummary{OrganizationID: req.OrganizationID, CampaignID: req.CampaignID}
	msgContacts, callContacts, reached := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, e := range events {
		if req.CampaignID != "" && e.CampaignID != req.CampaignID {
			continue
		}
		switch e.Kind {
		case audit.KindMessage:
			countAttempt(ctx, &out.Messages, e, msgContacts, reached)
		case audit.KindCall:
			countAttempt(ctx, &out.Calls, e, callContacts, reached)
		case audit.KindOptOut:
			out.OptOuts++
		case audit.KindConsent:
			out.Consents++
		}
	}
	out.Messages.Contacts = len(msgContacts)
	out.Calls.Contacts = len(callContacts)

	attempts := out.Messages.Attempts + out.Calls.Attempts
	if attempts > 0 {
		out.SuccessRate = float64(out.Messages.Sent+out.Calls.Sent) / float64(attempts)
	}
	if len(reached) > 0 {
		out.OptOutRate = float64(out.OptOuts) / float64(len(reached))
	}
	return out, nil
}

func countAttempt(ctx context.Context, st *ChannelStats, e audit.Event, contacts, reached map[string]bool) {
	st.Attempts++
	if e.ContactID != "" {
		contacts[e.ContactID] = true
	}

	var a audit.Attempt
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		logger.From(ctx).Warn("skipping malformed attempt payload", "event_id", e.ID, "err", err)
		return
	}
	switch a.Outcome {
	case audit.OutcomeSent:
		st.Sent++
		if e.ContactID != "" {
			reached[e.ContactID] = true
		}
	case audit.OutcomeFailed:
		st.Failed++
	}
}
