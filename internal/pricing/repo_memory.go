package pricing

import (
	"context"
	"sync"

	"outreach-platform/internal/campaigns"
)

// MemoryRepo is a simple in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	rates []Rate
}

func NewMemoryRepo(rates ...Rate) *MemoryRepo {
	return &MemoryRepo{rates: rates}
}

func (r *MemoryRepo) Add(rate Rate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates = append(r.rates, rate)
}

func (r *MemoryRepo) Candidates(ctx context.Context, organizationID string, channel campaigns.Channel, country string) ([]Rate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Rate
	for _, p := range r.rates {
		if p.Channel != channel {
			continue
		}
		if p.OrganizationID != "" && p.OrganizationID != organizationID {
			continue
		}
		if p.CountryISO2 != country && p.CountryISO2 != anyCountry {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
