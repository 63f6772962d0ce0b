package httpapi

import (
	"net/http"
	"strings"

	"outreach-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// GetWalletBalance returns the caller organization's balance.
func (h Handlers) GetWalletBalance(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), oid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

type adminCreditRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
}

// AdminCredit credits an organization's wallet by hand.
// RBAC: owner, finance or super_admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	target := c.Param("organization_id")
	if !sameOrganization(c, target) {
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AmountMinor <= 0 || req.ReferenceID == "" || req.Reason == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount_minor > 0, reference_id, reason required"})
		return
	}

	res, err := h.Wallet.Credit(c.Request.Context(), target, req.AmountMinor, reporting.RefPrefixAdmin+req.ReferenceID)
	if err != nil {
		fail(c, err)
		return
	}
	if !res.Duplicate {
		h.adminAction(c, target, "wallet credit", gin.H{
			"amount_minor":   req.AmountMinor,
			"reference_id":   req.ReferenceID,
			"reason":         req.Reason,
			"transaction_id": res.Transaction.ID,
		})
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminFreezeWallet(c *gin.Context)   { h.setFrozen(c, true) }
func (h Handlers) AdminUnfreezeWallet(c *gin.Context) { h.setFrozen(c, false) }

func (h Handlers) setFrozen(c *gin.Context, frozen bool) {
	target := c.Param("organization_id")
	if !sameOrganization(c, target) {
		return
	}
	freeze := h.Wallet.Unfreeze
	action := "wallet unfreeze"
	if frozen {
		freeze, action = h.Wallet.Freeze, "wallet freeze"
	}
	bal, err := freeze(c.Request.Context(), target)
	if err != nil {
		fail(c, err)
		return
	}
	h.adminAction(c, target, action, nil)
	c.JSON(http.StatusOK, bal)
}
