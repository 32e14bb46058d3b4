// README: Identity middleware; trusts the user headers set by the gateway.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleSupervisor = "supervisor"

	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"
)

// Identity rejects requests without a numeric X-User-ID and stores the
// caller in the gin context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		uid, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || uid <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderUserID})
			return
		}
		c.Set(ctxKeyUID, uid)
		c.Set(ctxKeyRole, strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))))
		c.Next()
	}
}

// RequireRole must run after Identity.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "requires role " + role})
			return
		}
		c.Next()
	}
}

// CallerUID returns the authenticated user id, or 0 outside Identity.
func CallerUID(c *gin.Context) int64 {
	v, _ := c.Get(ctxKeyUID)
	uid, _ := v.(int64)
	return uid
}

// CallerRole returns the caller role, lowercased ("" when not sent).
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// CallerRef is CallerUID as an optional actor reference.
func CallerRef(c *gin.Context) *int64 {
	uid := CallerUID(c)
	if uid == 0 {
		return nil
	}
	return &uid
}
