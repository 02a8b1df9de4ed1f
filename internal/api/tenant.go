// Package api holds the admin HTTP handlers: automations and their audit
// log, chatbots and executions, contacts and conversation messages.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// TenantHeader scopes every admin request to one tenant.
const TenantHeader = "X-Tenant-ID"

const tenantKey = "tenant_id"

// RequireTenant rejects requests without a tenant header.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(TenantHeader)
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": TenantHeader + " header is required"})
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
