package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"outreach-platform/internal/campaigns"
)

// Service quotes per-send costs.
//
// Contract:
// - Rate lookup prefers the organization's own rate, then the platform default;
//   an exact country beats "*".
// - No telephony provider SDK calls.
// - Pure calculation + repository lookups.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// QuoteRequest describes one send.
type QuoteRequest struct {
	OrganizationID string
	Channel        campaigns.Channel
	CountryISO2    string

	// Body is the SMS text. Ignored for voice.
	Body string

	// DurationSeconds is the voice duration. Zero quotes the minimum billable duration.
	DurationSeconds int

	// At determines which effective rate to use. If zero, service clock is used.
	At time.Time
}

type Quote struct {
	OrganizationID string            `json:"organization_id"`
	Channel        campaigns.Channel `json:"channel"`
	CountryISO2    string            `json:"country_iso2"`

	Segments        int `json:"segments,omitempty"`
	BillableSeconds int `json:"billable_seconds,omitempty"`
	BillableMinutes int `json:"billable_minutes,omitempty"`

	TotalMinor int64 `json:"total_minor"`
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// RateRepository abstracts rate persistence.
//
// Candidates returns every rate that could apply to (organization or platform
// default, channel, country or "*"); selection happens in the service.
type RateRepository interface {
	Candidates(ctx context.Context, organizationID string, channel campaigns.Channel, country string) ([]Rate, error)
}

func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.OrganizationID == "" || req.DurationSeconds < 0 {
		return Quote{}, ErrInvalidPricingReq
	}
	if req.Channel != campaigns.ChannelSMS && req.Channel != campaigns.ChannelVoice {
		return Quote{}, ErrInvalidPricingReq
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryISO2))

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	candidates, err := s.repo.Candidates(ctx, req.OrganizationID, req.Channel, country)
	if err != nil {
		return Quote{}, err
	}
	rate, ok := selectRate(candidates, req.OrganizationID, country, at)
	if !ok {
		return Quote{}, ErrPricingNotFound
	}

	q := Quote{OrganizationID: req.OrganizationID, Channel: req.Channel, CountryISO2: country}
	switch req.Channel {
	case campaigns.ChannelSMS:
		q.Segments = Segments(req.Body)
		q.TotalMinor = rate.PerSegmentMinor * int64(q.Segments)
	case campaigns.ChannelVoice:
		q.BillableSeconds = billableSeconds(req.DurationSeconds, rate.MinimumBillableSeconds, rate.BillingIncrementSeconds)
		q.BillableMinutes = billableMinutesFromSeconds(q.BillableSeconds)
		q.TotalMinor = rate.RatePerMinuteMinor * int64(q.BillableMinutes)
	}
	return q, nil
}

// selectRate ranks candidates: organization rate over platform default,
// exact country over "*", then the most recent EffectiveFrom.
func selectRate(rates []Rate, organizationID, country string, at time.Time) (Rate, bool) {
	rank := func(r Rate) int {
		score := 0
		if r.OrganizationID == organizationID {
			score += 2
		}
		if r.CountryISO2 == country {
			score++
		}
		return score
	}

	var best Rate
	bestRank, found := -1, false
	for _, r := range rates {
		if r.OrganizationID != "" && r.OrganizationID != organizationID {
			continue
		}
		if r.CountryISO2 != country && r.CountryISO2 != anyCountry {
			continue
		}
		if !r.effectiveAt(at) {
			continue
		}
		rk := rank(r)
		if !found || rk > bestRank || (rk == bestRank && r.EffectiveFrom.After(best.EffectiveFrom)) {
			best, bestRank, found = r, rk, true
		}
	}
	return best, found
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}
	if sec == 0 {
		sec = incrementSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
