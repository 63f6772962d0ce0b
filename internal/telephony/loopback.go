package telephony

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LoopbackProvider records sends in memory instead of calling a carrier.
// It backs local runs without provider credentials and service tests.
type LoopbackProvider struct {
	mu        sync.Mutex
	messages  []MessageRequest
	calls     []CallRequest
	suspended map[string]bool

	// Fail, when set, is consulted before every send; a non-nil error fails it.
	Fail func(to string) error
}

func NewLoopbackProvider() *LoopbackProvider {
	return &LoopbackProvider{suspended: map[string]bool{}}
}

func (p *LoopbackProvider) Name() string { return "loopback" }

func (p *LoopbackProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *LoopbackProvider) SendMessage(ctx context.Context, req MessageRequest) (SendResult, error) {
	if err := p.check(req.AccountID, req.To); err != nil {
		return SendResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, req)
	return SendResult{ProviderID: "SM" + uuid.NewString(), Status: "queued"}, nil
}

func (p *LoopbackProvider) PlaceCall(ctx context.Context, req CallRequest) (SendResult, error) {
	if _, err := RenderSay(req.Script); err != nil {
		return SendResult{}, err
	}
	if err := p.check(req.AccountID, req.To); err != nil {
		return SendResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return SendResult{ProviderID: "CA" + uuid.NewString(), Status: "queued"}, nil
}

func (p *LoopbackProvider) check(accountID, to string) error {
	p.mu.Lock()
	suspended := p.suspended[accountID]
	fail := p.Fail
	p.mu.Unlock()
	if suspended {
		return ErrRejected
	}
	if fail != nil {
		return fail(to)
	}
	return nil
}

func (p *LoopbackProvider) SuspendAccount(ctx context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended[accountID] = true
	return nil
}

func (p *LoopbackProvider) ReactivateAccount(ctx context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.suspended, accountID)
	return nil
}

func (p *LoopbackProvider) Messages() []MessageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MessageRequest(nil), p.messages...)
}

func (p *LoopbackProvider) Calls() []CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CallRequest(nil), p.calls...)
}

func (p *LoopbackProvider) Suspended(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended[accountID]
}
