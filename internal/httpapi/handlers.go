package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"outreach-platform/internal/audit"
	"outreach-platform/internal/auth"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/compliance"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/phoneintel"
	"outreach-platform/internal/reporting"
	"outreach-platform/internal/rbac"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Wallet     WalletService
	Phones     PhoneClassifier
	Compliance ComplianceService
	Dispatch   DispatchService
	Reports    ReportService
	Audit      AdminLog

	Now func() time.Time
}

type WalletService interface {
	GetBalance(ctx context.Context, organizationID string) (wallet.Balance, error)
	Credit(ctx context.Context, organizationID string, amountMinor int64, referenceID string) (wallet.Result, error)
	Freeze(ctx context.Context, organizationID string) (wallet.Balance, error)
	Unfreeze(ctx context.Context, organizationID string) (wallet.Balance, error)
}

type PhoneClassifier interface {
	Classify(ctx context.Context, phones []string) ([]phoneintel.Result, error)
}

type ComplianceService interface {
	HandleOptOut(ctx context.Context, contactID, organizationID string) (campaigns.Contact, error)
	RecordConsent(ctx context.Context, contactID, organizationID, source string) error
	PauseCampaign(ctx context.Context, campaignID string, reason campaigns.PauseReason) error
	ResumeCampaignsIfEligible(ctx context.Context, organizationID string) (int, error)
	GetCampaignStatus(ctx context.Context, campaignID string) (compliance.CampaignStatus, error)
}

type DispatchService interface {
	Start(ctx context.Context, campaignID string) (dispatch.Job, error)
	Resume(ctx context.Context, jobID string) (dispatch.Job, error)
	Pause(ctx context.Context, jobID, reason string) error
	Stop(ctx context.Context, jobID string) error
	ResumeCampaign(ctx context.Context, campaignID string) error
	Job(ctx context.Context, jobID string) (dispatch.Job, error)
}

type ReportService interface {
	SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error)
	OutreachSummary(ctx context.Context, req reporting.OutreachSummaryRequest) (reporting.OutreachSummary, error)
}

type AdminLog interface {
	LogAdminAction(ctx context.Context, organizationID, actorUserID, actorRole, ip, message string, metadata any) error
}

// --- Auth ---

type loginRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: credentials are not checked here; the route is only mounted outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrganizationID == "" || !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, organization_id and a known role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{UserID: req.UserID, OrganizationID: req.OrganizationID, Role: req.Role})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// ClientIP attaches the resolved client IP to the request context for audit records.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func organizationID(c *gin.Context) (string, bool) {
	oid, err := auth.OrganizationID(c.Request.Context())
	if err != nil || oid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", false
	}
	return oid, true
}

// sameOrganization hides other tenants' resources behind a 404.
// super_admin may act on any organization.
func sameOrganization(c *gin.Context, owner string) bool {
	if !rbac.CanAccessOrganization(c.Request.Context(), owner) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return false
	}
	return true
}

// adminAction records an admin mutation in the compliance log. Logging
// failures are reported but do not undo the action.
func (h Handlers) adminAction(c *gin.Context, organizationID, message string, metadata any) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	id, _ := auth.FromContext(ctx)
	if err := h.Audit.LogAdminAction(ctx, organizationID, id.UserID, id.Role, audit.ClientIPFromContext(ctx), message, metadata); err != nil {
		logger.FromGin(c).Error("admin action log failed", "organization_id", organizationID, "action", message, "err", err)
	}
}

// fail maps service errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, compliance.ErrInvalidArgument),
		errors.Is(err, compliance.ErrInvalidReason),
		errors.Is(err, reporting.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, campaigns.ErrNotFound),
		errors.Is(err, campaigns.ErrContactNotFound),
		errors.Is(err, dispatch.ErrJobNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, dispatch.ErrCampaignNotStartable),
		errors.Is(err, dispatch.ErrCampaignNotRunning),
		errors.Is(err, dispatch.ErrJobActive),
		errors.Is(err, dispatch.ErrJobNotPaused),
		errors.Is(err, dispatch.ErrJobFinished),
		errors.Is(err, compliance.ErrSuppressed),
		errors.Is(err, wallet.ErrDuplicateReference):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, dispatch.ErrTooManyJobs):
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, dispatch.ErrShuttingDown):
		status, msg = http.StatusServiceUnavailable, err.Error()
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
