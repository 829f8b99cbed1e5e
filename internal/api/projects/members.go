package projects

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collab-hub/collab-hub/internal/audit"
	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
	"github.com/collab-hub/collab-hub/internal/middleware"
	"github.com/collab-hub/collab-hub/internal/permission"
	"github.com/collab-hub/collab-hub/internal/policy"
	"github.com/collab-hub/collab-hub/internal/reconcile"
)

// memberView is the wire shape for a project member.
type memberView struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	IsAdmin     bool            `json:"is_admin"`
	IsRoot      bool            `json:"is_root"`
	Permissions map[string]bool `json:"permissions"`
}

func memberViews(members []*models.Member) []memberView {
	views := make([]memberView, 0, len(members))
	for _, m := range members {
		views = append(views, memberView{
			ID:          m.ID,
			CompanyID:   m.CompanyID,
			Email:       m.Email,
			DisplayName: m.DisplayName,
			IsAdmin:     m.IsAdmin,
			IsRoot:      m.IsRoot,
			Permissions: m.Permissions.Encode(),
		})
	}
	return views
}

// directory loads the owner company and its clients. A missing owner means the
// instance was never bootstrapped; callers treat that as a server error.
func (h *Handlers) directory(ctx context.Context) (reconcile.Directory, error) {
	owner, err := h.companyRepo.Owner(ctx)
	if err != nil {
		return reconcile.Directory{}, err
	}
	if owner == nil {
		return reconcile.Directory{}, errors.New("owner company not configured")
	}
	clients, err := h.companyRepo.Clients(ctx)
	if err != nil {
		return reconcile.Directory{}, err
	}
	return reconcile.Directory{Owner: owner, Clients: clients}, nil
}

// PeopleHandler lists the project's members.
// GET /api/v1/projects/:id/people
func (h *Handlers) PeopleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilitySee) {
			return
		}

		members, err := h.membershipRepo.CurrentMembers(c.Request.Context(), project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"members": memberViews(members)})
	}
}

// GetPermissionsHandler returns the current membership state in the shape the
// reconciliation endpoint accepts back: participating companies, members with
// their permission flags, and the set of companies and flags available.
// GET /api/v1/projects/:id/permissions
func (h *Handlers) GetPermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityManage) {
			return
		}

		ctx := c.Request.Context()

		dir, err := h.directory(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load companies"})
			return
		}
		companies, err := h.membershipRepo.CurrentCompanies(ctx, project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load participating companies"})
			return
		}
		members, err := h.membershipRepo.CurrentMembers(ctx, project.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"companies":         companies,
			"members":           memberViews(members),
			"available_clients": dir.Clients,
			"permission_flags":  permission.Names(),
			"owner_company_id":  dir.Owner.ID,
		})
	}
}

// reconcileRequest is the desired-state payload for membership updates. The
// permissions map is sparse: a member listed in users but absent here is reset
// to the no-capability baseline.
type reconcileRequest struct {
	Companies   []string                   `json:"companies"`
	Users       []string                   `json:"users"`
	Permissions map[string]map[string]bool `json:"permissions"`
}

// UpdatePermissionsHandler replaces the project's membership with the
// submitted desired state.
// POST /api/v1/projects/:id/permissions
func (h *Handlers) UpdatePermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}

		var req reconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		dir, err := h.directory(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load companies"})
			return
		}

		result, err := h.engine.Reconcile(c.Request.Context(), actor, project, dir, reconcile.Submission{
			CompanyIDs:  req.Companies,
			UserIDs:     req.Users,
			Permissions: req.Permissions,
		})
		if err != nil {
			if errors.Is(err, reconcile.ErrNotAuthorized) {
				c.JSON(http.StatusForbidden, gin.H{"error": "You don't have permission to manage this project"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project membership"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":              result.Status,
			"companies_added":     result.CompaniesAdded,
			"companies_removed":   result.CompaniesRemoved,
			"users_added":         result.UsersAdded,
			"users_removed":       result.UsersRemoved,
			"permissions_updated": result.PermissionsUpdated,
			"audit_errors":        len(result.AuditErrors),
		})
	}
}

// RemoveMemberHandler removes a single user from the project. Removing a user
// who is not a member is a no-op. The owner company's root user cannot be
// removed.
// DELETE /api/v1/projects/:id/people/:user_id
func (h *Handlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityManage) {
			return
		}

		ctx := c.Request.Context()
		userID := c.Param("user_id")

		user, err := h.userRepo.GetByID(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user != nil {
			owner, err := h.companyRepo.Owner(ctx)
			if err != nil || owner == nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve owner company"})
				return
			}
			if user.IsRoot && user.CompanyID == owner.ID {
				c.JSON(http.StatusForbidden, gin.H{"error": "The root user cannot be removed from a project"})
				return
			}
		}

		if err := h.membershipRepo.RemoveUser(ctx, project.ID, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
			return
		}

		h.record(c, actor, project.ID, audit.ActionUserRemoved, "membership", userID, nil)

		c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
	}
}

// RemoveCompanyHandler removes a company from the project along with all of
// that company's members. The owner company cannot be removed.
// DELETE /api/v1/projects/:id/companies/:company_id
func (h *Handlers) RemoveCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		project := h.loadProject(c)
		if project == nil {
			return
		}
		if !h.authorize(c, actor, project, policy.CapabilityManage) {
			return
		}

		ctx := c.Request.Context()
		companyID := c.Param("company_id")

		owner, err := h.companyRepo.Owner(ctx)
		if err != nil || owner == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve owner company"})
			return
		}
		if companyID == owner.ID {
			c.JSON(http.StatusForbidden, gin.H{"error": "The owner company cannot be removed from a project"})
			return
		}

		err = h.membershipRepo.InTx(ctx, func(store repositories.Store) error {
			if err := store.RemoveCompanyMembers(ctx, project.ID, companyID); err != nil {
				return err
			}
			return store.RemoveCompany(ctx, project.ID, companyID)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove company"})
			return
		}

		h.record(c, actor, project.ID, audit.ActionCompanyRemoved, "company", companyID, nil)

		c.JSON(http.StatusOK, gin.H{"message": "Company removed"})
	}
}
