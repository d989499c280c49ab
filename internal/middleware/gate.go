package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xerolink/xerolink/internal/linking"
)

// SessionChecker decides whether a user's Xero link may be used
type SessionChecker interface {
	CheckSession(ctx context.Context, userID, path string, now time.Time) (linking.Decision, error)
}

// RequireLinkedAccount lets a request through only when the authenticated user
// has a valid Xero link. Browsers are redirected to the interstitial; API
// clients get 403 with the same location in the body.
func RequireLinkedAccount(gate SessionChecker, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		decision, err := gate.CheckSession(c.Request.Context(), userID, c.Request.URL.RequestURI(), now())
		if err != nil {
			slog.Error("session gate check failed", "user_id", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check Xero session"})
			return
		}
		if decision.Allow {
			c.Next()
			return
		}

		if wantsHTML(c) {
			c.Header("Cache-Control", "no-store")
			c.Redirect(http.StatusFound, decision.Redirect)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":      "Xero account link required",
			"reason":     decision.Reason,
			"relink_url": decision.Redirect,
		})
	}
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
