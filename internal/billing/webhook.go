package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"outreach-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	WebhookPath = "/webhooks/billing"

	// SignatureHeader carries hex HMAC-SHA256 of the raw body under the shared secret.
	SignatureHeader = "X-Billing-Signature"

	maxWebhookBody = 1 << 20
)

// PayloadProcessor applies a raw billing event.
type PayloadProcessor interface {
	ProcessPayload(ctx context.Context, body []byte) (Outcome, error)
}

// WebhookHandler receives provider events over HTTP.
type WebhookHandler struct {
	Processor PayloadProcessor
	// Secret verifies SignatureHeader. Empty disables verification (local only).
	Secret string
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the signature of body.
func VerifySignature(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(Sign(secret, body)))
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) > maxWebhookBody {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	if h.Secret != "" && !VerifySignature(h.Secret, body, c.GetHeader(SignatureHeader)) {
		log.Warn("billing webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	outcome, err := h.Processor.ProcessPayload(c.Request.Context(), body)
	switch {
	case errors.Is(err, ErrMalformed):
		log.Warn("billing webhook malformed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
	case err != nil:
		// Non-2xx makes the provider redeliver.
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": outcome})
	}
}
