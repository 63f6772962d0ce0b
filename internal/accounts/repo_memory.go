package accounts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store useful for tests.
type MemoryStore struct {
	mu   sync.Mutex
	orgs map[string]Organization
	subs map[string]Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: map[string]Organization{}, subs: map[string]Subscription{}}
}

func (s *MemoryStore) PutOrganization(o Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.ID] = o
}

func (s *MemoryStore) GetOrganization(ctx context.Context, organizationID string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[organizationID]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, organizationID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[organizationID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemoryStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.subs[sub.OrganizationID]; ok {
		if sub.PlanID == "" {
			sub.PlanID = prev.PlanID
		}
		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = prev.CurrentPeriodEnd
		}
	}
	s.subs[sub.OrganizationID] = sub
	return nil
}

func (s *MemoryStore) FindSubscriptionByExternalID(ctx context.Context, provider, externalSubscriptionID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Provider == provider && sub.ExternalSubscriptionID == externalSubscriptionID {
			return sub, nil
		}
	}
	return Subscription{}, ErrNotFound
}
