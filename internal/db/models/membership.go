// Package models - membership.go defines the User×Project join entity carrying
// the member's permission bitmask, plus the enriched view used by the people
// and permissions endpoints.
package models

import (
	"time"

	"github.com/collab-hub/collab-hub/internal/permission"
)

// Membership represents a user's participation in a project. A row exists iff
// the user currently participates; Permissions is the project-level capability
// bitmask.
type Membership struct {
	ProjectID   string         `json:"project_id"`
	UserID      string         `json:"user_id"`
	Permissions permission.Set `json:"permissions"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Member joins a membership row with the user it belongs to, for display and
// for reconciliation (the engine needs each current member's company and root
// flag alongside their permissions).
type Member struct {
	User
	Permissions permission.Set `json:"permissions"`
}
