package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"outreach-platform/internal/config"
	"outreach-platform/pkg/httpretry"
)

func TestTwilioProvider_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/ACsub/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ACmaster" || pass != "tok" {
			t.Errorf("expected master basic auth")
		}
		_ = r.ParseForm()
		if r.PostForm.Get("To") != "+15551234567" || r.PostForm.Get("Body") != "hi" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.PostForm.Get("StatusCallback") != "https://hooks.example.com"+StatusCallbackPath {
			t.Errorf("expected status callback, got %q", r.PostForm.Get("StatusCallback"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(config.TwilioConfig{
		AccountSID: "ACmaster", AuthToken: "tok", BaseURL: srv.URL, PublicURL: "https://hooks.example.com",
	}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	res, err := p.SendMessage(context.Background(), MessageRequest{AccountID: "ACsub", From: "+15550000000", To: "+15551234567", Body: "hi"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.ProviderID != "SM1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTwilioProvider_RejectedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	p, _ := NewTwilioProvider(config.TwilioConfig{AccountSID: "AC", AuthToken: "t", BaseURL: srv.URL}, srv.Client())
	_, err := p.SendMessage(context.Background(), MessageRequest{To: "+1", From: "+2", Body: "x"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestTwilioProvider_SuspendAccount(t *testing.T) {
	var status string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		status = r.PostForm.Get("Status")
		if r.URL.Path != "/2010-04-01/Accounts/ACsub.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sid":"ACsub","status":"suspended"}`))
	}))
	defer srv.Close()

	p, _ := NewTwilioProvider(config.TwilioConfig{AccountSID: "ACmaster", AuthToken: "t", BaseURL: srv.URL}, srv.Client())
	if err := p.SuspendAccount(context.Background(), "ACsub"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if status != "suspended" {
		t.Fatalf("expected suspended, got %q", status)
	}
	if err := p.SuspendAccount(context.Background(), "ACmaster"); err == nil {
		t.Fatalf("expected refusal to suspend the platform account")
	}
}

func TestTwilioProvider_SendsAreSingleAttemptAccountCallsRetry(t *testing.T) {
	var sends, accounts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/Messages.json") || strings.HasSuffix(r.URL.Path, "/Calls.json") {
			sends.Add(1)
		} else {
			accounts.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	retry := httpretry.NewRetryClient(srv.Client(), 2, httpretry.WithBaseDelay(time.Millisecond), httpretry.WithMaxDelay(time.Millisecond))
	p, err := NewTwilioProvider(config.TwilioConfig{AccountSID: "ACmaster", AuthToken: "t", BaseURL: srv.URL}, srv.Client(), WithAccountClient(retry))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx := context.Background()

	if _, err := p.SendMessage(ctx, MessageRequest{AccountID: "ACsub", From: "+15550000000", To: "+15551234567", Body: "hi"}); err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := p.PlaceCall(ctx, CallRequest{AccountID: "ACsub", From: "+15550000000", To: "+15551234567", Script: "hello"}); err == nil {
		t.Fatalf("expected transient error")
	}
	if got := sends.Load(); got != 2 {
		t.Fatalf("expected one request per send, got %d", got)
	}

	if err := p.SuspendAccount(ctx, "ACsub"); err == nil {
		t.Fatalf("expected error after retries")
	}
	if got := accounts.Load(); got != 3 {
		t.Fatalf("expected 3 account requests, got %d", got)
	}
}
