package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/collab-hub/collab-hub/internal/db/models"
)

// ProjectRepository handles project database operations
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, description, owner_company_id, completed, created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.OwnerCompanyID,
		&p.Completed,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create creates a new project owned by the given company.
func (r *ProjectRepository) Create(ctx context.Context, name, description, ownerCompanyID, createdBy string) (*models.Project, error) {
	id := uuid.New().String()

	query := `
		INSERT INTO projects (id, name, description, owner_company_id, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + projectColumns + `
	`

	project, err := scanProject(r.db.QueryRowContext(ctx, query, id, name, description, ownerCompanyID, createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE id = $1
	`

	project, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListAll retrieves every project, newest first. Reserved for root users.
func (r *ProjectRepository) ListAll(ctx context.Context) ([]*models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// ListVisible retrieves the projects a user can see: those the user is a
// member of, plus those whose participating companies include the user's own.
func (r *ProjectRepository) ListVisible(ctx context.Context, userID, companyID string) ([]*models.Project, error) {
	query := `
		SELECT DISTINCT p.id, p.name, p.description, p.owner_company_id, p.completed, p.created_by, p.created_at, p.updated_at
		FROM projects p
		LEFT JOIN project_memberships pm ON pm.project_id = p.id AND pm.user_id = $1
		LEFT JOIN project_companies pc ON pc.project_id = p.id AND pc.company_id = $2
		WHERE pm.user_id IS NOT NULL OR pc.company_id IS NOT NULL
		ORDER BY p.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

func collectProjects(rows *sql.Rows) ([]*models.Project, error) {
	projects := make([]*models.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Update updates a project's name and description
func (r *ProjectRepository) Update(ctx context.Context, id, name, description string) (*models.Project, error) {
	query := `
		UPDATE projects
		SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + projectColumns + `
	`

	project, err := scanProject(r.db.QueryRowContext(ctx, query, id, name, description))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return project, nil
}

// SetCompleted marks a project completed or reopens it.
func (r *ProjectRepository) SetCompleted(ctx context.Context, id string, completed bool) (*models.Project, error) {
	query := `
		UPDATE projects
		SET completed = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + projectColumns + `
	`

	project, err := scanProject(r.db.QueryRowContext(ctx, query, id, completed))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update project status: %w", err)
	}

	return project, nil
}

// Delete deletes a project. Memberships and company links cascade.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM projects WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %s", id)
	}

	return nil
}
