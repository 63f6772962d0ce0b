package httpapi

import (
	"net/http"

	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/dispatch"

	"github.com/gin-gonic/gin"
)

// campaignOwned loads the campaign status and enforces tenancy.
func (h Handlers) campaignOwned(c *gin.Context) (string, bool) {
	id := c.Param("campaign_id")
	st, err := h.Compliance.GetCampaignStatus(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return "", false
	}
	if !sameOrganization(c, st.OrganizationID) {
		return "", false
	}
	return id, true
}

// jobOwned loads the job and enforces tenancy.
func (h Handlers) jobOwned(c *gin.Context) (dispatch.Job, bool) {
	job, err := h.Dispatch.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		fail(c, err)
		return dispatch.Job{}, false
	}
	if !sameOrganization(c, job.OrganizationID) {
		return dispatch.Job{}, false
	}
	return job, true
}

func (h Handlers) GetCampaignStatus(c *gin.Context) {
	st, err := h.Compliance.GetCampaignStatus(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !sameOrganization(c, st.OrganizationID) {
		return
	}
	c.JSON(http.StatusOK, st)
}

type pauseCampaignRequest struct {
	Reason campaigns.PauseReason `json:"reason"`
}

// PauseCampaign pauses a running campaign. The reason defaults to MANUAL.
func (h Handlers) PauseCampaign(c *gin.Context) {
	id, ok := h.campaignOwned(c)
	if !ok {
		return
	}
	var req pauseCampaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = campaigns.PauseManual
	}
	if err := h.Compliance.PauseCampaign(c.Request.Context(), id, req.Reason); err != nil {
		fail(c, err)
		return
	}
	h.respondStatus(c, id)
}

// ResumeCampaign resumes a paused campaign's latest dispatch job.
func (h Handlers) ResumeCampaign(c *gin.Context) {
	id, ok := h.campaignOwned(c)
	if !ok {
		return
	}
	if err := h.Dispatch.ResumeCampaign(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	h.respondStatus(c, id)
}

// ResumeEligibleCampaigns resumes the caller's billing-paused campaigns when
// the organization can send again.
func (h Handlers) ResumeEligibleCampaigns(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	n, err := h.Compliance.ResumeCampaignsIfEligible(c.Request.Context(), oid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": n})
}

func (h Handlers) respondStatus(c *gin.Context, campaignID string) {
	st, err := h.Compliance.GetCampaignStatus(c.Request.Context(), campaignID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StartDispatch starts sending a campaign. Mount behind RequireSendEligibility.
func (h Handlers) StartDispatch(c *gin.Context) {
	id, ok := h.campaignOwned(c)
	if !ok {
		return
	}
	job, err := h.Dispatch.Start(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h Handlers) GetDispatchJob(c *gin.Context) {
	job, ok := h.jobOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h Handlers) ResumeDispatch(c *gin.Context) {
	job, ok := h.jobOwned(c)
	if !ok {
		return
	}
	job, err := h.Dispatch.Resume(c.Request.Context(), job.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h Handlers) PauseDispatch(c *gin.Context) {
	job, ok := h.jobOwned(c)
	if !ok {
		return
	}
	if err := h.Dispatch.Pause(c.Request.Context(), job.ID, dispatch.ReasonManual); err != nil {
		fail(c, err)
		return
	}
	h.respondJob(c, job.ID)
}

func (h Handlers) StopDispatch(c *gin.Context) {
	job, ok := h.jobOwned(c)
	if !ok {
		return
	}
	if err := h.Dispatch.Stop(c.Request.Context(), job.ID); err != nil {
		fail(c, err)
		return
	}
	h.respondJob(c, job.ID)
}

func (h Handlers) respondJob(c *gin.Context, jobID string) {
	job, err := h.Dispatch.Job(c.Request.Context(), jobID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// OptOutContact suppresses a contact of the caller's organization.
func (h Handlers) OptOutContact(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	contact, err := h.Compliance.HandleOptOut(c.Request.Context(), c.Param("contact_id"), oid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

type consentRequest struct {
	Source string `json:"source"`
}

// RecordConsent records a contact's agreement to warm calls. The body is optional.
func (h Handlers) RecordConsent(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	var req consentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if err := h.Compliance.RecordConsent(c.Request.Context(), c.Param("contact_id"), oid, req.Source); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact_id": c.Param("contact_id"), "consent": true})
}
