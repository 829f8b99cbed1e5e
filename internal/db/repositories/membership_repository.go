package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/permission"
)

// Store is the membership mutation surface. It is implemented both by
// MembershipRepository (autocommit, one statement per call) and by the
// transaction-bound store handed to InTx callbacks, so multi-step membership
// rewrites commit or roll back as a unit.
type Store interface {
	// CurrentCompanies returns the companies currently participating in the
	// project, the owner included.
	CurrentCompanies(ctx context.Context, projectID string) ([]*models.Company, error)

	// CurrentMembers returns the project's members joined with their user
	// records and permission bitmasks.
	CurrentMembers(ctx context.Context, projectID string) ([]*models.Member, error)

	// EligibleUsers returns every user belonging to any of the given companies.
	EligibleUsers(ctx context.Context, companyIDs []string) ([]*models.User, error)

	// SetCompanies replaces the project's participating company set wholesale.
	SetCompanies(ctx context.Context, projectID string, companyIDs []string) error

	// AddCompany links a company to a project, a no-op if already linked.
	AddCompany(ctx context.Context, projectID, companyID string) error

	// RemoveCompany unlinks a company from a project, a no-op if not linked.
	RemoveCompany(ctx context.Context, projectID, companyID string) error

	// RemoveUser deletes a user's membership, a no-op if absent.
	RemoveUser(ctx context.Context, projectID, userID string) error

	// RemoveCompanyMembers deletes the memberships of every user belonging to
	// the given company.
	RemoveCompanyMembers(ctx context.Context, projectID, companyID string) error

	// UpsertPermissions inserts or overwrites a membership with the given
	// permission bitmask.
	UpsertPermissions(ctx context.Context, projectID, userID string, perms permission.Set) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// MembershipRepository handles project membership and participating-company
// database operations.
type MembershipRepository struct {
	membershipStore
	db *sql.DB
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{membershipStore: membershipStore{q: db}, db: db}
}

// InTx runs fn with a Store bound to a single database transaction. The
// transaction commits iff fn returns nil; any error rolls the whole rewrite
// back.
func (r *MembershipRepository) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&membershipStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// membershipStore implements Store against either a live connection or an open
// transaction.
type membershipStore struct {
	q dbtx
}

func (s *membershipStore) CurrentCompanies(ctx context.Context, projectID string) ([]*models.Company, error) {
	query := `
		SELECT c.id, c.name, c.display_name, c.is_owner, c.client_of, c.created_at, c.updated_at
		FROM companies c
		JOIN project_companies pc ON pc.company_id = c.id
		WHERE pc.project_id = $1
		ORDER BY c.id
	`

	rows, err := s.q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project companies: %w", err)
	}
	defer rows.Close()

	companies := make([]*models.Company, 0)
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, company)
	}

	return companies, rows.Err()
}

func (s *membershipStore) CurrentMembers(ctx context.Context, projectID string) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.company_id, u.email, u.display_name, u.is_admin, u.is_root, u.auto_assign,
		       u.created_at, u.updated_at, pm.permissions
		FROM project_memberships pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY u.id
	`

	rows, err := s.q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.Member, 0)
	for rows.Next() {
		m := &models.Member{}
		err := rows.Scan(
			&m.ID,
			&m.CompanyID,
			&m.Email,
			&m.DisplayName,
			&m.IsAdmin,
			&m.IsRoot,
			&m.AutoAssign,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.Permissions,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (s *membershipStore) EligibleUsers(ctx context.Context, companyIDs []string) ([]*models.User, error) {
	if len(companyIDs) == 0 {
		return []*models.User{}, nil
	}

	query := `
		SELECT id, company_id, email, display_name, is_admin, is_root, auto_assign, created_at, updated_at
		FROM users
		WHERE company_id = ANY($1)
		ORDER BY id
	`

	rows, err := s.q.QueryContext(ctx, query, pq.Array(companyIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u := &models.User{}
		err := rows.Scan(
			&u.ID,
			&u.CompanyID,
			&u.Email,
			&u.DisplayName,
			&u.IsAdmin,
			&u.IsRoot,
			&u.AutoAssign,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (s *membershipStore) SetCompanies(ctx context.Context, projectID string, companyIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM project_companies WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear project companies: %w", err)
	}

	for _, companyID := range companyIDs {
		if err := s.AddCompany(ctx, projectID, companyID); err != nil {
			return err
		}
	}

	return nil
}

func (s *membershipStore) AddCompany(ctx context.Context, projectID, companyID string) error {
	query := `
		INSERT INTO project_companies (project_id, company_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, company_id) DO NOTHING
	`

	if _, err := s.q.ExecContext(ctx, query, projectID, companyID); err != nil {
		return fmt.Errorf("failed to add project company: %w", err)
	}

	return nil
}

func (s *membershipStore) RemoveCompany(ctx context.Context, projectID, companyID string) error {
	query := `DELETE FROM project_companies WHERE project_id = $1 AND company_id = $2`

	if _, err := s.q.ExecContext(ctx, query, projectID, companyID); err != nil {
		return fmt.Errorf("failed to remove project company: %w", err)
	}

	return nil
}

func (s *membershipStore) RemoveUser(ctx context.Context, projectID, userID string) error {
	query := `DELETE FROM project_memberships WHERE project_id = $1 AND user_id = $2`

	if _, err := s.q.ExecContext(ctx, query, projectID, userID); err != nil {
		return fmt.Errorf("failed to remove project member: %w", err)
	}

	return nil
}

func (s *membershipStore) RemoveCompanyMembers(ctx context.Context, projectID, companyID string) error {
	query := `
		DELETE FROM project_memberships
		WHERE project_id = $1
		  AND user_id IN (SELECT id FROM users WHERE company_id = $2)
	`

	if _, err := s.q.ExecContext(ctx, query, projectID, companyID); err != nil {
		return fmt.Errorf("failed to remove company members: %w", err)
	}

	return nil
}

func (s *membershipStore) UpsertPermissions(ctx context.Context, projectID, userID string, perms permission.Set) error {
	query := `
		INSERT INTO project_memberships (project_id, user_id, permissions)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id)
		DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()
	`

	if _, err := s.q.ExecContext(ctx, query, projectID, userID, perms); err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}

	return nil
}

// GetMembership retrieves a single membership row, nil if the user is not a
// member.
func (r *MembershipRepository) GetMembership(ctx context.Context, projectID, userID string) (*models.Membership, error) {
	query := `
		SELECT project_id, user_id, permissions, created_at, updated_at
		FROM project_memberships
		WHERE project_id = $1 AND user_id = $2
	`

	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, projectID, userID).Scan(
		&m.ProjectID,
		&m.UserID,
		&m.Permissions,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not a member
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return m, nil
}
