// Package models defines the persisted entities for the collaboration hub:
// companies, users, projects, project memberships, and audit log entries.
// Models are plain structs with no query logic; all database access goes
// through the repositories package.
package models

import "time"

// Company represents an organization that can participate in projects.
// Exactly one company per deployment is the owner (the organization that
// operates the hub); every other company is a client of the owner and can
// be granted participation in individual projects.
type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	IsOwner     bool      `json:"is_owner"`
	ClientOf    *string   `json:"client_of,omitempty"` // Owner company ID for client companies
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
