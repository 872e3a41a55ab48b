// Package middleware provides Gin HTTP middleware for authentication, request
// identification, metrics, and audit recording on the operator API.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Audit → Auth → Handler
//
// Audit registers before Auth so its post-handler hook observes rejected
// authentications too; Auth populates the actor identity that Audit reads
// when attributing successful operations.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/audit-sentinel/audit-sentinel/internal/auth"
)

const (
	// ActorIDKey is the gin.Context key holding the authenticated actor's ID.
	ActorIDKey = "actor_id"

	// ActorEmailKey is the gin.Context key holding the authenticated actor's email.
	ActorEmailKey = "actor_email"
)

// AuthMiddleware validates the bearer JWT on operator API requests and stores
// the actor identity in the request context. Requests without a valid token
// are rejected with 401 before reaching any handler.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(ActorIDKey, claims.ActorID)
		c.Set(ActorEmailKey, claims.Email)

		c.Next()
	}
}
