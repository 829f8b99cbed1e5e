// Package models - audit_log.go defines the persisted audit trail entry for
// membership and project changes.
package models

import "time"

// AuditLog represents a single audit trail entry. UserID is the actor who made
// the change; ResourceType/ResourceID identify what changed (company, user,
// membership, project).
type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"user_id,omitempty"`
	ProjectID    *string                `json:"project_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resource_type,omitempty"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    *string                `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
