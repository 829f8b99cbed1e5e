// Package repositories implements the data access layer (repository pattern)
// for the collaboration hub. Each repository type encapsulates all database
// queries for a domain entity. Handlers and the reconciliation engine never
// issue SQL directly — all database access goes through this layer, which makes
// query logic testable in isolation with sqlmock.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/collab-hub/collab-hub/internal/db/models"
)

// CompanyRepository handles company database operations. It is the read-only
// directory the engine and policy layer consult for the owner company and its
// clients; company CRUD itself happens outside this service.
type CompanyRepository struct {
	db *sql.DB
}

// NewCompanyRepository creates a new CompanyRepository
func NewCompanyRepository(db *sql.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `id, name, display_name, is_owner, client_of, created_at, updated_at`

func scanCompany(row interface{ Scan(...interface{}) error }) (*models.Company, error) {
	c := &models.Company{}
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.DisplayName,
		&c.IsOwner,
		&c.ClientOf,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Owner retrieves the single owner company of the deployment.
func (r *CompanyRepository) Owner(ctx context.Context) (*models.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies
		WHERE is_owner = TRUE
	`

	company, err := scanCompany(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not bootstrapped yet
		}
		return nil, fmt.Errorf("failed to get owner company: %w", err)
	}

	return company, nil
}

// Clients retrieves all client companies of the owner.
func (r *CompanyRepository) Clients(ctx context.Context) ([]*models.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies
		WHERE is_owner = FALSE AND client_of IS NOT NULL
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list client companies: %w", err)
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

// GetByID retrieves a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies
		WHERE id = $1
	`

	company, err := scanCompany(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return company, nil
}
