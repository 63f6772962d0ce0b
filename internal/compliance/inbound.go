package compliance

import (
	"context"
	"errors"
	"strings"

	"outreach-platform/internal/audit"
	"outreach-platform/internal/telephony"
	"outreach-platform/pkg/logger"
)

// OptOutReply is sent back to a contact after a successful keyword opt-out.
const OptOutReply = "You have been unsubscribed and will receive no further messages."

var optOutKeywords = map[string]struct{}{
	"STOP":        {},
	"STOPALL":     {},
	"UNSUBSCRIBE": {},
	"CANCEL":      {},
	"END":         {},
	"QUIT":        {},
}

// OptOutKeyword returns the opt-out keyword body starts with, if any.
func OptOutKeyword(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", false
	}
	kw := strings.ToUpper(strings.Trim(fields[0], ".!,;:"))
	_, ok := optOutKeywords[kw]
	return kw, ok
}

// HandleInboundMessage opts out every contact with the sender's phone when the
// message is an opt-out keyword. Other messages are ignored.
func (c *Controller) HandleInboundMessage(ctx context.Context, msg telephony.InboundMessage) (string, error) {
	kw, ok := OptOutKeyword(msg.Body)
	if !ok {
		return "", nil
	}
	contacts, err := c.campaigns.FindContactsByPhone(ctx, msg.From)
	if err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		logger.From(ctx).Info("opt-out from unknown phone", "phone", logger.RedactPhone(msg.From), "keyword", kw)
		return OptOutReply, nil
	}

	var errs []error
	now := c.clock()
	for _, contact := range contacts {
		if contact.Suppressed(now) {
			continue
		}
		if _, err := c.optOut(ctx, contact, audit.OptOut{Source: "sms", Keyword: kw}); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return OptOutReply, nil
}
