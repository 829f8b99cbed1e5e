// Package policy contains the authorization rules for projects as pure
// functions over in-memory values. It issues no queries of its own; callers
// load the actor, project, and participating-company set, then ask. This keeps
// the rules table-driven testable without a database.
package policy

import "github.com/collab-hub/collab-hub/internal/db/models"

// Capability names a project-level action an actor may attempt.
type Capability string

const (
	CapabilitySee          Capability = "see"
	CapabilityManage       Capability = "manage"
	CapabilityEdit         Capability = "edit"
	CapabilityDelete       Capability = "delete"
	CapabilityChangeStatus Capability = "change_status"
)

// Input carries everything a policy decision needs. ParticipatingCompanyIDs is
// the project's current company set; IsMember reports whether the actor holds
// a membership row.
type Input struct {
	Actor                   *models.User
	Project                 *models.Project
	ParticipatingCompanyIDs []string
	IsMember                bool
}

// Allows evaluates a capability against the input. Unknown capabilities are
// denied.
func Allows(cap Capability, in Input) bool {
	switch cap {
	case CapabilitySee:
		return CanSee(in)
	case CapabilityManage:
		return CanManage(in)
	case CapabilityEdit, CapabilityDelete, CapabilityChangeStatus:
		return CanAdminister(in)
	default:
		return false
	}
}

// CanSee reports whether the actor may view the project: root users see
// everything, members see their projects, and any user whose company
// participates sees it too.
func CanSee(in Input) bool {
	if in.Actor.IsRoot {
		return true
	}
	if in.IsMember {
		return true
	}
	return participates(in, in.Actor.CompanyID)
}

// CanManage reports whether the actor may rewrite the project's company and
// membership sets. Root users always may; otherwise the actor must be a
// company administrator whose company participates in the project.
func CanManage(in Input) bool {
	if in.Actor.IsRoot {
		return true
	}
	return in.Actor.IsAdmin && participates(in, in.Actor.CompanyID)
}

// CanAdminister reports whether the actor may edit, delete, or change the
// status of the project. This is stricter than CanManage: only root users and
// administrators of the owning company qualify.
func CanAdminister(in Input) bool {
	if in.Actor.IsRoot {
		return true
	}
	return in.Actor.IsAdmin && in.Actor.CompanyID == in.Project.OwnerCompanyID
}

// CanCreateProjects reports whether the actor may create projects under the
// given owner company.
func CanCreateProjects(actor *models.User, ownerCompanyID string) bool {
	if actor.IsRoot {
		return true
	}
	return actor.IsAdmin && actor.CompanyID == ownerCompanyID
}

func participates(in Input, companyID string) bool {
	for _, id := range in.ParticipatingCompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}
