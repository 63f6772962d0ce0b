package phoneintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"outreach-platform/pkg/httpretry"
)

// Provider validates phones against an external phone intelligence service.
type Provider interface {
	ValidateBatch(ctx context.Context, phones []string) ([]Lookup, error)
}

// ErrTransient marks a provider failure worth retrying (timeouts, 429, 5xx).
var ErrTransient = errors.New("phoneintel: transient provider failure")

// HTTPProvider posts JSON batches to a lookup endpoint with bearer auth.
//
// Request:  {"phones": ["+15551234567", ...]}
// Response: {"results": [{"phone": "...", "is_valid": true, "phone_type": "mobile", ...}]}
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   httpretry.HTTPDoer
}

func NewHTTPProvider(endpoint, apiKey string, client httpretry.HTTPDoer) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{endpoint: endpoint, apiKey: apiKey, client: client}
}

type batchRequest struct {
	Phones []string `json:"phones"`
}

type batchResponse struct {
	Results []Lookup `json:"results"`
}

func (p *HTTPProvider) ValidateBatch(ctx context.Context, phones []string) ([]Lookup, error) {
	body, err := json.Marshal(batchRequest{Phones: phones})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("phoneintel: provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if httpretry.IsRetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, err
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("phoneintel: decode response: %w", err)
	}
	for i := range out.Results {
		switch out.Results[i].PhoneType {
		case PhoneMobile, PhoneLandline:
		default:
			out.Results[i].PhoneType = PhoneUnknown
		}
	}
	return out.Results, nil
}
