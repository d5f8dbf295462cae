package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/auth"
)

// Context key for the auth.Session in gin.Context.
const ContextKeySession = "session"

// AuthMiddleware validates the bearer token and stores the caller's
// auth.Session in the request context. A missing or invalid token aborts
// with 401.
//
// Browsers cannot set headers on a WebSocket upgrade, so a "token" query
// parameter is accepted as well.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeySession, auth.SessionFromClaims(claims, tokenString))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := c.Query("token")
		return token, token != ""
	}
	// "Bearer eyJhbG..." -> ["Bearer", "eyJhbG..."]
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetSession returns the caller's session, or auth.Anonymous outside the
// authenticated group.
func GetSession(c *gin.Context) auth.Session {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return auth.Anonymous
	}
	sess, ok := val.(auth.Session)
	if !ok {
		return auth.Anonymous
	}
	return sess
}

func GetUserID(c *gin.Context) uuid.UUID {
	return GetSession(c).UserID
}
