package eligibility

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"outreach-platform/internal/auth"
	"outreach-platform/internal/rbac"
	"outreach-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const headerEstimatedCostMinor = "X-Estimated-Cost-Minor"

// Checker is the minimal gate interface needed by middleware.
type Checker interface {
	CanSend(ctx context.Context, organizationID string, estimatedCostMinor int64) (Decision, error)
}

// RequireSendEligibility blocks the request when the caller's organization may not send.
//
// - organization_id comes from the auth context
// - the estimated charge is read from X-Estimated-Cost-Minor (optional, defaults to 0)
// - super_admin bypasses
//
// Denials are 402 Payment Required with the decision in the body.
func RequireSendEligibility(gate Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := auth.FromContext(c.Request.Context())
		if rbac.IsSuperAdmin(id.Role) {
			c.Next()
			return
		}

		organizationID := id.OrganizationID
		if organizationID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}

		var (
			estMinor int64
			err      error
		)
		if raw := strings.TrimSpace(c.GetHeader(headerEstimatedCostMinor)); raw != "" {
			estMinor, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || estMinor < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "estimated cost invalid"})
				return
			}
		}

		d, err := gate.CanSend(c.Request.Context(), organizationID, estMinor)
		if err != nil {
			logger.FromGin(c).Error("eligibility check failed", "organization_id", organizationID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "eligibility check failed"})
			return
		}
		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": d.Reason, "code": d.Code})
			return
		}
		c.Next()
	}
}
