package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/collab-hub/collab-hub/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions / row builders
// ---------------------------------------------------------------------------

var auditCols = []string{"id", "user_id", "project_id", "action", "resource_type", "resource_id", "metadata", "ip_address", "created_at"}

func sampleAuditRow() *sqlmock.Rows {
	return sqlmock.NewRows(auditCols).
		AddRow("log-1", "user-1", "proj-1", "membership.permissions_updated", "membership", "user-2",
			[]byte(`{"permissions":["can_manage_tasks"]}`), "10.0.0.1", time.Now())
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestAuditCreate_Success(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	userID := "user-1"
	projectID := "proj-1"
	entry := &models.AuditLog{
		UserID:    &userID,
		ProjectID: &projectID,
		Action:    "membership.user_removed",
		Metadata:  map[string]interface{}{"removed_user": "user-2"},
	}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected generated ID, got empty")
	}
}

func TestAuditCreate_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnError(errDB)

	entry := &models.AuditLog{Action: "project.created"}
	if err := repo.Create(context.Background(), entry); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListByProject
// ---------------------------------------------------------------------------

func TestAuditListByProject_Success(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT.*FROM audit_logs.*WHERE project_id").
		WithArgs("proj-1", 50).
		WillReturnRows(sampleAuditRow())

	logs, err := repo.ListByProject(context.Background(), "proj-1", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	if logs[0].Metadata == nil {
		t.Error("expected metadata, got nil")
	}
}

func TestAuditListByProject_DefaultLimit(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT.*FROM audit_logs.*WHERE project_id").
		WithArgs("proj-1", 100).
		WillReturnRows(sqlmock.NewRows(auditCols))

	logs, err := repo.ListByProject(context.Background(), "proj-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("len(logs) = %d, want 0", len(logs))
	}
}
