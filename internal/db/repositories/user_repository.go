// user_repository.go implements UserRepository over sqlx for struct scanning.
// Users are provisioned elsewhere; this service only reads them for identity
// resolution, eligibility checks, and auto-assignment at project creation.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/collab-hub/collab-hub/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// userRow mirrors the users table for sqlx scanning.
type userRow struct {
	ID          string       `db:"id"`
	CompanyID   string       `db:"company_id"`
	Email       string       `db:"email"`
	DisplayName string       `db:"display_name"`
	IsAdmin     bool         `db:"is_admin"`
	IsRoot      bool         `db:"is_root"`
	AutoAssign  bool         `db:"auto_assign"`
	CreatedAt   sql.NullTime `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (row userRow) toModel() *models.User {
	return &models.User{
		ID:          row.ID,
		CompanyID:   row.CompanyID,
		Email:       row.Email,
		DisplayName: row.DisplayName,
		IsAdmin:     row.IsAdmin,
		IsRoot:      row.IsRoot,
		AutoAssign:  row.AutoAssign,
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
	}
}

const userColumns = `id, company_id, email, display_name, is_admin, is_root, auto_assign, created_at, updated_at`

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	var row userRow
	err := r.db.GetContext(ctx, &row, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return row.toModel(), nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1
	`

	var row userRow
	err := r.db.GetContext(ctx, &row, query, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return row.toModel(), nil
}

// ListByCompanies retrieves all users belonging to any of the given companies.
// An empty company list yields an empty result, not an error.
func (r *UserRepository) ListByCompanies(ctx context.Context, companyIDs []string) ([]*models.User, error) {
	if len(companyIDs) == 0 {
		return []*models.User{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+userColumns+`
		FROM users
		WHERE company_id IN (?)
		ORDER BY id`, companyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users by companies: %w", err)
	}

	users := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

// AutoAssigned retrieves the owner-company users flagged for automatic
// membership in every new project.
func (r *UserRepository) AutoAssigned(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE auto_assign = TRUE
		ORDER BY id
	`

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list auto-assigned users: %w", err)
	}

	users := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}
