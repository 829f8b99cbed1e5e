// Package projects implements the HTTP handlers for project CRUD, status
// changes, and membership management. Authorization decisions are delegated to
// the policy package; membership rewrites are delegated to the reconciliation
// engine. Handlers only translate HTTP to and from those layers.
package projects

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collab-hub/collab-hub/internal/audit"
	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
	"github.com/collab-hub/collab-hub/internal/middleware"
	"github.com/collab-hub/collab-hub/internal/permission"
	"github.com/collab-hub/collab-hub/internal/policy"
	"github.com/collab-hub/collab-hub/internal/reconcile"
)

// Handlers handles project management endpoints
type Handlers struct {
	projectRepo    *repositories.ProjectRepository
	companyRepo    *repositories.CompanyRepository
	userRepo       *repositories.UserRepository
	membershipRepo *repositories.MembershipRepository
	engine         *reconcile.Engine
	recorder       audit.Recorder
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	projectRepo *repositories.ProjectRepository,
	companyRepo *repositories.CompanyRepository,
	userRepo *repositories.UserRepository,
	membershipRepo *repositories.MembershipRepository,
	engine *reconcile.Engine,
	recorder audit.Recorder,
) *Handlers {
	return &Handlers{
		projectRepo:    projectRepo,
		companyRepo:    companyRepo,
		userRepo:       userRepo,
		membershipRepo: membershipRepo,
		engine:         engine,
		recorder:       recorder,
	}
}

// loadProject fetches the project from the path parameter, writing the error
// response itself. A nil return means the response is already written.
func (h *Handlers) loadProject(c *gin.Context) *models.Project {
	project, err := h.projectRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return nil
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil
	}
	return project
}

// policyInput assembles the policy evaluation input for the actor and project.
func (h *Handlers) policyInput(ctx context.Context, actor *models.User, project *models.Project) (policy.Input, error) {
	companies, err := h.membershipRepo.CurrentCompanies(ctx, project.ID)
	if err != nil {
		return policy.Input{}, err
	}
	ids := make([]string, 0, len(companies))
	for _, company := range companies {
		ids = append(ids, company.ID)
	}

	membership, err := h.membershipRepo.GetMembership(ctx, project.ID, actor.ID)
	if err != nil {
		return policy.Input{}, err
	}

	return policy.Input{
		Actor:                   actor,
		Project:                 project,
		ParticipatingCompanyIDs: ids,
		IsMember:                membership != nil,
	}, nil
}

// authorize checks a capability and writes the error response on denial or
// failure. Returns false when the response is already written.
func (h *Handlers) authorize(c *gin.Context, actor *models.User, project *models.Project, cap policy.Capability) bool {
	in, err := h.policyInput(c.Request.Context(), actor, project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate permissions"})
		return false
	}
	if !policy.Allows(cap, in) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have permission to do that"})
		return false
	}
	return true
}

func (h *Handlers) record(c *gin.Context, actor *models.User, projectID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	event := &audit.Event{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		ActorID:      actor.ID,
		ProjectID:    projectID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    c.ClientIP(),
		Metadata:     metadata,
	}
	// Best-effort; the mutation already happened.
	_ = h.recorder.Record(c.Request.Context(), event)
}

// ListHandler lists the projects the actor can see.
// GET /api/v1/projects
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)

		var (
			projects []*models.Project
			err      error
		)
		if actor.IsRoot {
			projects, err = h.projectRepo.ListAll(c.Request.Context())
		} else {
			projects, err = h.projectRepo.ListVisible(c.Request.Context(), actor.ID, actor.CompanyID)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list projects"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

// GetHandler returns a single project.
// GET /api/v1/projects/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilitySee) {
			return
		}

		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

// createRequest is the payload for project creation.
type createRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateHandler creates a project under the owner company. The creator becomes
// a member with every permission; owner-company users flagged for automatic
// assignment join with baseline permissions.
// POST /api/v1/projects
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Project name is required"})
			return
		}

		owner, err := h.companyRepo.Owner(c.Request.Context())
		if err != nil || owner == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve owner company"})
			return
		}

		if !policy.CanCreateProjects(actor, owner.ID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You don't have permission to create projects"})
			return
		}

		project, err := h.projectRepo.Create(c.Request.Context(), req.Name, req.Description, owner.ID, actor.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
			return
		}

		autoAssigned, err := h.userRepo.AutoAssigned(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load auto-assigned users"})
			return
		}

		err = h.membershipRepo.InTx(c.Request.Context(), func(store repositories.Store) error {
			if err := store.AddCompany(c.Request.Context(), project.ID, owner.ID); err != nil {
				return err
			}
			if err := store.UpsertPermissions(c.Request.Context(), project.ID, actor.ID, permission.All); err != nil {
				return err
			}
			for _, user := range autoAssigned {
				if user.ID == actor.ID {
					continue
				}
				if err := store.UpsertPermissions(c.Request.Context(), project.ID, user.ID, permission.None); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set up project membership"})
			return
		}

		h.record(c, actor, project.ID, audit.ActionProjectCreated, "project", project.ID,
			map[string]interface{}{"name": project.Name})

		c.JSON(http.StatusCreated, gin.H{"project": project})
	}
}

// updateRequest is the payload for project edits.
type updateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// UpdateHandler renames a project or changes its description.
// PUT /api/v1/projects/:id
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityEdit) {
			return
		}

		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Project name is required"})
			return
		}

		updated, err := h.projectRepo.Update(c.Request.Context(), project.ID, req.Name, req.Description)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project"})
			return
		}

		h.record(c, actor, project.ID, audit.ActionProjectUpdated, "project", project.ID, nil)

		c.JSON(http.StatusOK, gin.H{"project": updated})
	}
}

// DeleteHandler deletes a project and all its memberships.
// DELETE /api/v1/projects/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityDelete) {
			return
		}

		if err := h.projectRepo.Delete(c.Request.Context(), project.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
			return
		}

		h.record(c, actor, project.ID, audit.ActionProjectDeleted, "project", project.ID,
			map[string]interface{}{"name": project.Name})

		c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
	}
}

// StatusHandler marks a project completed or reopens it.
// PUT /api/v1/projects/:id/complete
// PUT /api/v1/projects/:id/open
func (h *Handlers) StatusHandler(completed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityChangeStatus) {
			return
		}

		updated, err := h.projectRepo.SetCompleted(c.Request.Context(), project.ID, completed)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project status"})
			return
		}

		action := audit.ActionProjectReopened
		if completed {
			action = audit.ActionProjectCompleted
		}
		h.record(c, actor, project.ID, action, "project", project.ID, nil)

		c.JSON(http.StatusOK, gin.H{"project": updated})
	}
}
