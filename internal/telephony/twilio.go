package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"outreach-platform/internal/config"
	"outreach-platform/pkg/httpretry"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioProvider talks to the Twilio REST API over form-encoded HTTP with basic
// auth using the platform (master) credentials. Subaccount resources are
// addressed by AccountID in the URL.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	// statusCallback is the public URL Twilio posts delivery updates to.
	statusCallback string
	// client makes exactly one request per message or call; the dispatcher
	// owns send retries and records each attempt.
	client httpretry.HTTPDoer
	// accountClient serves account and health requests, which are safe to retry.
	accountClient httpretry.HTTPDoer
}

// TwilioOption customizes a TwilioProvider.
type TwilioOption func(*TwilioProvider)

// WithAccountClient sets the client used for account status and health
// requests, typically an *httpretry.RetryClient.
func WithAccountClient(c httpretry.HTTPDoer) TwilioOption {
	return func(p *TwilioProvider) { p.accountClient = c }
}

func NewTwilioProvider(cfg config.TwilioConfig, client httpretry.HTTPDoer, opts ...TwilioOption) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	p := &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    base,
		client:     client,
	}
	for _, o := range opts {
		o(p)
	}
	if p.accountClient == nil {
		p.accountClient = client
	}
	if cfg.PublicURL != "" {
		p.statusCallback = strings.TrimRight(cfg.PublicURL, "/") + StatusCallbackPath
	}
	return p, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	_, err := p.do(ctx, p.accountClient, http.MethodGet, p.accountURL(p.accountSID, ".json"), nil)
	return err
}

func (p *TwilioProvider) SendMessage(ctx context.Context, req MessageRequest) (SendResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Body", req.Body)
	if p.statusCallback != "" {
		form.Set("StatusCallback", p.statusCallback)
	}
	return p.create(ctx, p.accountURL(p.account(req.AccountID), "/Messages.json"), form)
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req CallRequest) (SendResult, error) {
	twiml, err := RenderSay(req.Script)
	if err != nil {
		return SendResult{}, err
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	if p.statusCallback != "" {
		form.Set("StatusCallback", p.statusCallback)
	}
	return p.create(ctx, p.accountURL(p.account(req.AccountID), "/Calls.json"), form)
}

func (p *TwilioProvider) SuspendAccount(ctx context.Context, accountID string) error {
	return p.setAccountStatus(ctx, accountID, "suspended")
}

func (p *TwilioProvider) ReactivateAccount(ctx context.Context, accountID string) error {
	return p.setAccountStatus(ctx, accountID, "active")
}

func (p *TwilioProvider) setAccountStatus(ctx context.Context, accountID, status string) error {
	if accountID == "" || accountID == p.accountSID {
		// Never suspend the platform account itself.
		return errors.New("telephony: subaccount id required")
	}
	form := url.Values{}
	form.Set("Status", status)
	_, err := p.do(ctx, p.accountClient, http.MethodPost, p.accountURL(accountID, ".json"), form)
	return err
}

func (p *TwilioProvider) account(accountID string) string {
	if accountID == "" {
		return p.accountSID
	}
	return accountID
}

func (p *TwilioProvider) accountURL(accountID, suffix string) string {
	return p.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(accountID) + suffix
}

type twilioResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (p *TwilioProvider) create(ctx context.Context, endpoint string, form url.Values) (SendResult, error) {
	body, err := p.do(ctx, p.client, http.MethodPost, endpoint, form)
	if err != nil {
		return SendResult{}, err
	}
	var res twilioResource
	if err := json.Unmarshal(body, &res); err != nil {
		return SendResult{}, fmt.Errorf("telephony: decode twilio response: %w", err)
	}
	return SendResult{ProviderID: res.SID, Status: res.Status}, nil
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) do(ctx context.Context, client httpretry.HTTPDoer, method, endpoint string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	var te twilioError
	_ = json.Unmarshal(raw, &te)
	err = fmt.Errorf("telephony: twilio status %d code %d: %s", resp.StatusCode, te.Code, te.Message)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil, err
}
