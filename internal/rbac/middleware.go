package rbac

import (
	"context"
	"net/http"

	"outreach-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOrganization rejects callers whose token names no organization.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.OrganizationID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}
		c.Next()
	}
}

// Require allows the request when the caller's role holds perm.
func Require(perm Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(id.Role, perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "permission": perm})
			return
		}
		c.Next()
	}
}

// CanAccessOrganization reports whether the caller may act on resources owned
// by organizationID: its own organization, or any organization for super_admin.
func CanAccessOrganization(ctx context.Context, organizationID string) bool {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return false
	}
	return IsSuperAdmin(id.Role) || (id.OrganizationID != "" && id.OrganizationID == organizationID)
}
