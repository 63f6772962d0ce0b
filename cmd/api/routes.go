package main

import (
	"database/sql"
	"net/http"
	"time"

	"outreach-platform/internal/billing"
	"outreach-platform/internal/compliance"
	"outreach-platform/internal/config"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/rbac"
	"outreach-platform/internal/telephony"
	"outreach-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Route registration only. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, cfg config.Config, db *sql.DB, rdb *redis.Client, reg *prometheus.Registry) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

// Provider webhooks are public and authenticated by their own signatures.
func registerWebhookRoutes(r *gin.Engine, cfg config.Config, ctrl *compliance.Controller, processor *billing.Processor) {
	tw := telephony.TwilioWebhookHandler{
		Inbound:   ctrl,
		AuthToken: cfg.Twilio.AuthToken,
		PublicURL: cfg.Twilio.PublicURL,
	}
	twilio := r.Group("", tw.RequireSignature())
	twilio.POST(telephony.InboundSMSPath, tw.HandleInboundSMS)
	twilio.POST(telephony.StatusCallbackPath, tw.HandleStatusCallback)

	bh := billing.WebhookHandler{Processor: processor, Secret: cfg.Billing.WebhookSecret}
	r.POST(billing.WebhookPath, bh.Handle)
}

// Refresh is always mounted. Login issues tokens without credential checks
// and is never mounted in production.
func registerAuthRoutes(r *gin.Engine, h httpapi.Handlers, withLogin bool) {
	r.POST("/v1/auth/refresh", h.Refresh)
	if withLogin {
		r.POST("/v1/auth/login", h.Login)
	}
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, gate eligibility.Checker) {
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireOrganization())

	view := rbac.Require(rbac.ViewCampaigns)
	operate := rbac.Require(rbac.OperateCampaigns)
	canSend := eligibility.RequireSendEligibility(gate)

	v1.GET("/wallet", rbac.Require(rbac.ViewWallet), h.GetWalletBalance)
	v1.POST("/phones/classify", rbac.Require(rbac.ClassifyPhones), h.ClassifyPhones)

	campaigns := v1.Group("/campaigns")
	{
		campaigns.GET("/:campaign_id/status", view, h.GetCampaignStatus)
		campaigns.POST("/:campaign_id/pause", operate, h.PauseCampaign)
		campaigns.POST("/:campaign_id/resume", operate, canSend, h.ResumeCampaign)
		campaigns.POST("/:campaign_id/dispatch", operate, canSend, h.StartDispatch)
		campaigns.POST("/resume-eligible", operate, h.ResumeEligibleCampaigns)
	}

	jobs := v1.Group("/dispatch/jobs")
	{
		jobs.GET("/:job_id", view, h.GetDispatchJob)
		jobs.POST("/:job_id/resume", operate, canSend, h.ResumeDispatch)
		jobs.POST("/:job_id/pause", operate, h.PauseDispatch)
		jobs.POST("/:job_id/stop", operate, h.StopDispatch)
	}

	v1.POST("/contacts/:contact_id/opt-out", operate, h.OptOutContact)
	v1.POST("/contacts/:contact_id/consent", operate, h.RecordConsent)

	reports := v1.Group("/reports", rbac.Require(rbac.ViewReports))
	{
		reports.GET("/spend", h.SpendReport)
		reports.GET("/outreach", h.OutreachReport)
	}

	// Handlers 404 on other organizations unless the caller is super_admin.
	admin := v1.Group("/admin/organizations/:organization_id/wallet", rbac.Require(rbac.ManageWallet))
	{
		admin.POST("/credit", h.AdminCredit)
		admin.POST("/freeze", h.AdminFreezeWallet)
		admin.POST("/unfreeze", h.AdminUnfreezeWallet)
	}
}
