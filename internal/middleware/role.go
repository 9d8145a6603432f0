package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/queue-status/backend/internal/auth"
	"github.com/queue-status/backend/pkg/response"
)

// RequireRole allows only the given roles. Admins are always allowed.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{auth.RoleAdmin: {}}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			return
		}
		c.Next()
	}
}

// GetRole returns the authenticated operator's role.
func GetRole(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
