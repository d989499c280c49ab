// Package middleware provides the gin middleware shared by every xerolink route.
//
// Ordering is set in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → SessionGate → Audit → Handler
//
// Auth identifies the local user; the session gate then decides whether that
// user's Xero link may be used for the request.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xerolink/xerolink/internal/auth"
	"github.com/xerolink/xerolink/internal/db/models"
)

// Context keys set by SessionAuth
const (
	UserKey       = "user"
	UserIDKey     = "user_id"
	AuthMethodKey = "auth_method"
)

// UserLoader loads the local user named in a session token
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// SessionAuth requires a valid session token, taken from an Authorization
// Bearer header or, for browser redirects, from cookieName.
func SessionAuth(cookieName string, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method := sessionToken(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(AuthMethodKey, method)
		c.Next()
	}
}

func sessionToken(c *gin.Context, cookieName string) (token, method string) {
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", ""
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), "bearer"
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v, "cookie"
		}
	}
	return "", ""
}

// CurrentUser returns the user set by SessionAuth, or nil
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
