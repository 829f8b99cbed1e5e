// Package models - user.go defines the User model. Users belong to exactly one
// company; account provisioning happens outside this service, so the model
// carries only what access-control decisions need.
package models

import "time"

// User represents an account in the system. IsRoot marks the bootstrap
// administrator of the owner company; that user can never be removed from a
// project or have their permissions reduced.
type User struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	IsRoot      bool      `json:"is_root"`
	AutoAssign  bool      `json:"auto_assign"` // Added to every new project automatically
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
