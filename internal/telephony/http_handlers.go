package telephony

import (
	"context"
	"net/http"
	"strings"
	"time"

	"outreach-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// InboundHandler reacts to inbound messages (e.g., opt-out keywords).
type InboundHandler interface {
	HandleInboundMessage(ctx context.Context, msg InboundMessage) (reply string, err error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types,
// delegates to the inbound handler, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Inbound InboundHandler

	// AuthToken validates X-Twilio-Signature. Empty disables validation (local only).
	AuthToken string
	// PublicURL is the externally visible base URL Twilio calls (scheme://host).
	PublicURL string

	Now func() time.Time
}

// RequireSignature rejects webhooks that do not carry a valid Twilio signature.
func (h TwilioWebhookHandler) RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.AuthToken == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		full := strings.TrimRight(h.PublicURL, "/") + c.Request.URL.RequestURI()
		if !ValidateSignature(h.AuthToken, full, c.Request) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func (h TwilioWebhookHandler) HandleInboundSMS(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Inbound == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound handler not configured"})
		return
	}

	msg, err := ParseInboundMessage(c.Request, h.Now().UTC())
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	reply, err := h.Inbound.HandleInboundMessage(c.Request.Context(), msg)
	if err != nil {
		// Non-2xx makes Twilio retry the webhook.
		log.Error("inbound message handling failed", "from", logger.RedactPhone(msg.From), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound handling failed"})
		return
	}

	twiml, err := RenderMessageReply(reply)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleStatusCallback logs delivery updates. Charging happens at send time,
// so callbacks never touch the ledger.
func (h TwilioWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	u, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	attrs := []any{"provider_id", u.ProviderID, "status", u.Status, "to", logger.RedactPhone(u.To)}
	if u.ErrorCode != "" {
		log.Warn("provider delivery failed", append(attrs, "error_code", u.ErrorCode)...)
	} else {
		log.Info("provider status update", append(attrs, "duration_seconds", u.DurationSeconds)...)
	}
	c.Status(http.StatusNoContent)
}
