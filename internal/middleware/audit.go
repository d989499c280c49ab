// audit.go records Xero link lifecycle events in the audit log.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xerolink/xerolink/internal/config"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/safego"
)

// Context keys handlers use to describe an auditable action
const (
	AuditActionKey       = "audit_action"
	AuditResourceTypeKey = "audit_resource_type"
	AuditResourceIDKey   = "audit_resource_id"
)

// AuditWriter persists audit entries
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SetAudit marks the current request as an auditable action
func SetAudit(c *gin.Context, action, resourceType, resourceID string) {
	c.Set(AuditActionKey, action)
	if resourceType != "" {
		c.Set(AuditResourceTypeKey, resourceType)
	}
	if resourceID != "" {
		c.Set(AuditResourceIDKey, resourceID)
	}
}

// AuditMiddleware writes an audit entry for every request a handler marked with
// SetAudit, and for any other authenticated write. Failed requests are only
// recorded when cfg.LogFailedRequests is set. Writes happen off the request path.
func AuditMiddleware(writer AuditWriter, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if cfg != nil && !cfg.Enabled {
			return
		}
		if c.Request.Method == http.MethodOptions {
			return
		}

		action := c.GetString(AuditActionKey)
		isWrite := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead
		if action == "" && !isWrite {
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}
		if action == "" {
			action = c.Request.Method + " " + c.FullPath()
		}

		entry := &models.AuditLog{
			Action:    action,
			CreatedAt: time.Now(),
			Metadata: map[string]interface{}{
				"status_code": status,
				"request_id":  c.GetString(RequestIDKey),
			},
		}
		if ip := c.ClientIP(); ip != "" {
			entry.IPAddress = &ip
		}
		if uid := c.GetString(UserIDKey); uid != "" {
			entry.UserID = &uid
		}
		if rt := c.GetString(AuditResourceTypeKey); rt != "" {
			entry.ResourceType = &rt
		}
		if rid := c.GetString(AuditResourceIDKey); rid != "" {
			entry.ResourceID = &rid
		}
		if method := c.GetString(AuthMethodKey); method != "" {
			entry.Metadata["auth_method"] = method
		}

		safego.Go("audit-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}
