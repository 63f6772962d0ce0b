package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"

	"outreach-platform/internal/phoneintel"
)

// MemoryStore is an in-memory Store useful for tests.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	contacts  map[string]Contact
	clock     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{campaigns: map[string]Campaign{}, contacts: map[string]Contact{}, clock: time.Now}
}

func (s *MemoryStore) Put(c Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *MemoryStore) PutContact(c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func (s *MemoryStore) Get(ctx context.Context, campaignID string) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListByOrganization(ctx context.Context, organizationID string, status Status) ([]Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Campaign
	for _, c := range s.campaigns {
		if c.OrganizationID != organizationID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, campaignID string, from, to Status, reason PauseReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.PausedReason = reason
	c.UpdatedAt = s.clock().UTC()
	s.campaigns[campaignID] = c
	return true, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context, campaignID string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	SortContacts(out)
	return out, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}

func (s *MemoryStore) SetPhoneClassification(ctx context.Context, contactID, phone string, phoneType phoneintel.PhoneType, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}
	c.Phone = phone
	c.PhoneType = phoneType
	c.IsPhoneValid = valid
	s.contacts[contactID] = c
	return nil
}

func (s *MemoryStore) MarkOptedOut(ctx context.Context, contactID string, until time.Time) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	c.OptedOut = true
	u := until.UTC()
	c.NextEligibleAt = &u
	s.contacts[contactID] = c
	return c, nil
}

func (s *MemoryStore) FindContactsByPhone(ctx context.Context, phone string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, c := range s.contacts {
		if c.Phone == phone {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
