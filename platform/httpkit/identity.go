// Package httpkit provides HTTP utilities including tenant scope extraction.
package httpkit

import (
	"context"
	"net/http"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"

	"github.com/gin-gonic/gin"
)

// TenantID returns the tenant the request was authenticated for.
func TenantID(c *gin.Context) (string, bool) {
	value, ok := c.Get(ContextTenantIDKey)
	if !ok {
		return "", false
	}
	tenantID, ok := value.(string)
	return tenantID, ok && tenantID != ""
}

// MustTenantID returns the request tenant or aborts with 401.
func MustTenantID(c *gin.Context) (string, bool) {
	tenantID, ok := TenantID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return tenantID, true
}

// AllowedAgents returns the agent ids the widget token is restricted to.
// An empty list means every agent of the tenant is allowed.
func AllowedAgents(c *gin.Context) []string {
	value, ok := c.Get(ContextAgentsKey)
	if !ok {
		return nil
	}
	agents, _ := value.([]string)
	return agents
}

// AgentAllowed reports whether the widget token may talk to agentID.
func AgentAllowed(c *gin.Context, agentID string) bool {
	agents := AllowedAgents(c)
	if len(agents) == 0 {
		return true
	}
	for _, id := range agents {
		if id == agentID {
			return true
		}
	}
	return false
}

// SetSessionID tags the request context with the visitor session so request
// logs carry it.
func SetSessionID(c *gin.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	ctx := context.WithValue(c.Request.Context(), logger.SessionIDKey, sessionID)
	c.Request = c.Request.WithContext(ctx)
}
