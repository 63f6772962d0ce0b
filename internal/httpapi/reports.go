package httpapi

import (
	"net/http"
	"time"

	"outreach-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// timeRange reads RFC 3339 from/to query parameters. to defaults to now and
// from to 30 days before to.
func (h Handlers) timeRange(c *gin.Context) (reporting.TimeRange, bool) {
	r := reporting.TimeRange{To: h.now().UTC()}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return r, false
		}
		r.To = t.UTC()
	}
	r.From = r.To.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return r, false
		}
		r.From = t.UTC()
	}
	return r, true
}

func (h Handlers) SpendReport(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	r, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{OrganizationID: oid, Range: r})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) OutreachReport(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	r, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.OutreachSummary(c.Request.Context(), reporting.OutreachSummaryRequest{
		OrganizationID: oid,
		Range:          r,
		CampaignID:     c.Query("campaign_id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
