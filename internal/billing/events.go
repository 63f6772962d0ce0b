package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PayPal webhook event types.
// Ref: https://developer.paypal.com/api/rest/webhooks/event-names/
const (
	TypeSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	TypeSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	TypeSubscriptionCanceled  = "BILLING.SUBSCRIPTION.CANCELLED"
	TypeSubscriptionUpdated   = "BILLING.SUBSCRIPTION.UPDATED"
	TypePaymentCaptured       = "PAYMENT.SALE.COMPLETED"
	TypePaymentDenied         = "PAYMENT.SALE.DENIED"
)

// ErrMalformed means the payload cannot be parsed into a known event shape.
// Redelivering it will not help.
var ErrMalformed = errors.New("billing: malformed event")

// Event is one of SubscriptionActivated, SubscriptionSuspended,
// SubscriptionCanceled, SubscriptionUpdated, PaymentCaptured, PaymentDenied
// or Unknown.
type Event interface {
	EventID() string
	EventType() string
	event()
}

// Header is common to every event.
type Header struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

func (h Header) EventID() string   { return h.ID }
func (h Header) EventType() string { return h.Type }
func (Header) event()              {}

// SubscriptionChange carries the subscription fields every lifecycle event has.
type SubscriptionChange struct {
	Header
	ExternalSubscriptionID string
	PlanID                 string
	// OrganizationID comes from custom_id and may be empty; the stored
	// subscription is authoritative when one exists.
	OrganizationID   string
	CurrentPeriodEnd *time.Time
}

type (
	SubscriptionActivated struct{ SubscriptionChange }
	SubscriptionSuspended struct{ SubscriptionChange }
	SubscriptionCanceled  struct{ SubscriptionChange }
	SubscriptionUpdated   struct{ SubscriptionChange }
)

// PaymentCaptured is a completed wallet top-up.
type PaymentCaptured struct {
	Header
	PaymentID      string
	OrganizationID string
	AmountMinor    int64
	Currency       string
}

type PaymentDenied struct {
	Header
	PaymentID      string
	OrganizationID string
}

// Unknown is an event type this service does not act on.
type Unknown struct{ Header }

type envelope struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime *time.Time      `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type subscriptionResource struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	CustomID    string `json:"custom_id"`
	BillingInfo *struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
	} `json:"billing_info"`
}

type saleResource struct {
	ID          string `json:"id"`
	CustomID    string `json:"custom_id"`
	Description string `json:"description"`
	Amount      *struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// Parse decodes a provider payload into its typed event. Known event types
// must carry every field their handler needs; anything else is ErrMalformed.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: id and event_type are required", ErrMalformed)
	}
	h := Header{ID: env.ID, Type: env.EventType}
	if env.CreateTime != nil {
		h.OccurredAt = env.CreateTime.UTC()
	}

	switch env.EventType {
	case TypeSubscriptionActivated, TypeSubscriptionSuspended, TypeSubscriptionCanceled, TypeSubscriptionUpdated:
		ch, err := parseSubscription(h, env.Resource)
		if err != nil {
			return nil, err
		}
		switch env.EventType {
		case TypeSubscriptionActivated:
			return SubscriptionActivated{ch}, nil
		case TypeSubscriptionSuspended:
			return SubscriptionSuspended{ch}, nil
		case TypeSubscriptionCanceled:
			return SubscriptionCanceled{ch}, nil
		default:
			return SubscriptionUpdated{ch}, nil
		}

	case TypePaymentCaptured:
		r, err := parseSale(env.Resource)
		if err != nil {
			return nil, err
		}
		if r.Amount == nil || r.Amount.Total == "" {
			return nil, fmt.Errorf("%w: sale %s has no amount", ErrMalformed, r.ID)
		}
		minor, err := MinorUnits(r.Amount.Total, r.Amount.Currency)
		if err != nil {
			return nil, err
		}
		return PaymentCaptured{
			Header:         h,
			PaymentID:      r.ID,
			OrganizationID: saleOrganization(r),
			AmountMinor:    minor,
			Currency:       strings.ToUpper(r.Amount.Currency),
		}, nil

	case TypePaymentDenied:
		r, err := parseSale(env.Resource)
		if err != nil {
			return nil, err
		}
		return PaymentDenied{Header: h, PaymentID: r.ID, OrganizationID: saleOrganization(r)}, nil

	default:
		return Unknown{h}, nil
	}
}

func parseSubscription(h Header, raw json.RawMessage) (SubscriptionChange, error) {
	var r subscriptionResource
	if len(raw) == 0 {
		return SubscriptionChange{}, fmt.Errorf("%w: %s has no resource", ErrMalformed, h.Type)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return SubscriptionChange{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.ID == "" {
		return SubscriptionChange{}, fmt.Errorf("%w: %s has no subscription id", ErrMalformed, h.Type)
	}
	ch := SubscriptionChange{
		Header:                 h,
		ExternalSubscriptionID: r.ID,
		PlanID:                 r.PlanID,
		OrganizationID:         strings.TrimSpace(r.CustomID),
	}
	if r.BillingInfo != nil && r.BillingInfo.NextBillingTime != nil {
		t := r.BillingInfo.NextBillingTime.UTC()
		ch.CurrentPeriodEnd = &t
	}
	return ch, nil
}

func parseSale(raw json.RawMessage) (saleResource, error) {
	var r saleResource
	if len(raw) == 0 {
		return r, fmt.Errorf("%w: sale has no resource", ErrMalformed)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.ID == "" {
		return r, fmt.Errorf("%w: sale has no id", ErrMalformed)
	}
	return r, nil
}

// saleOrganization reads the organization from custom_id, falling back to
// a "label|orgID" description.
func saleOrganization(r saleResource) string {
	if id := strings.TrimSpace(r.CustomID); id != "" {
		return id
	}
	if parts := strings.Split(r.Description, "|"); len(parts) > 1 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// zeroDecimal lists currencies PayPal bills without a fractional part.
var zeroDecimal = map[string]bool{"HUF": true, "JPY": true, "TWD": true}

// MinorUnits converts a decimal amount string into minor units of currency,
// rounding half away from zero. Non-positive amounts are ErrMalformed.
func MinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrMalformed, amount, err)
	}
	exp := int32(2)
	if zeroDecimal[strings.ToUpper(currency)] {
		exp = 0
	}
	minor := d.Shift(exp).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: amount %q must be positive", ErrMalformed, amount)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrMalformed, amount)
	}
	return minor.IntPart(), nil
}
