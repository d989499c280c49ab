// Package models - audit_log.go defines the AuditLog model for recording link and unlink
// events, capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID           string
	UserID       *string                // Nullable for system actions
	Action       string                 // "xero.link", "xero.unlink", "xero.identity.confirm"
	ResourceType *string                // "account_link", "projects_user"
	ResourceID   *string                // ID of affected resource
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string                // Client IP
	CreatedAt    time.Time
}
