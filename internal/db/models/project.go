// Package models - project.go defines the Project model. The owning company is
// fixed at creation and is always a participant regardless of what membership
// submissions say.
package models

import "time"

// Project represents a shared collaboration project.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	OwnerCompanyID string    `json:"owner_company_id"`
	Completed      bool      `json:"completed"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsActive reports whether the project is still open.
func (p *Project) IsActive() bool {
	return !p.Completed
}
