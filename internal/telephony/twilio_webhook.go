package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Twilio posts application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/messaging/guides/webhook-request
//
// Keep parsing minimal and provider-adapter-only.
// Business logic (opt-out handling) is not done here.

const (
	InboundSMSPath     = "/webhooks/twilio/sms"
	StatusCallbackPath = "/webhooks/twilio/status"

	signatureHeader = "X-Twilio-Signature"
)

// ParseInboundMessage reads an inbound SMS webhook.
func ParseInboundMessage(r *http.Request, receivedAt time.Time) (InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return InboundMessage{}, err
	}
	return InboundMessage{
		ProviderID: r.PostFormValue("MessageSid"),
		AccountID:  r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		ReceivedAt: receivedAt,
	}, nil
}

// ParseStatusCallback reads a message or call status callback.
func ParseStatusCallback(r *http.Request) (StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, err
	}
	u := StatusUpdate{
		AccountID: r.PostFormValue("AccountSid"),
		From:      normalizePhone(r.PostFormValue("From")),
		To:        normalizePhone(r.PostFormValue("To")),
		ErrorCode: r.PostFormValue("ErrorCode"),
	}
	if sid := r.PostFormValue("MessageSid"); sid != "" {
		u.ProviderID = sid
		u.Status = r.PostFormValue("MessageStatus")
	} else {
		u.ProviderID = r.PostFormValue("CallSid")
		u.Status = r.PostFormValue("CallStatus")
		if d, err := strconv.Atoi(r.PostFormValue("CallDuration")); err == nil {
			u.DurationSeconds = d
		}
	}
	return u, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// ComputeSignature returns Twilio's request signature: base64 HMAC-SHA1 over
// the full URL followed by every POST parameter name and value, sorted by name.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the X-Twilio-Signature header. r must already have
// its form parsed. fullURL is the public URL Twilio called.
func ValidateSignature(authToken, fullURL string, r *http.Request) bool {
	got := r.Header.Get(signatureHeader)
	if got == "" || authToken == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, r.PostForm)
	return hmac.Equal([]byte(got), []byte(want))
}
