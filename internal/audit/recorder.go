// Package audit records membership and project changes to durable
// destinations. Audit records are intentionally separate from application logs
// because they have different consumers and retention requirements; the hub's
// own logs are ephemeral debug output, while the audit trail answers "who
// changed this project's membership, and when". The package supports multiple
// simultaneous destinations (database, file, webhook) via the Recorder
// interface. Recording is best-effort by contract: a failed audit write never
// rolls back the change it describes, it only degrades the result to partial.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
)

// Membership and project audit actions.
const (
	ActionCompanyAdded       = "membership.company_added"
	ActionCompanyRemoved     = "membership.company_removed"
	ActionUserAdded          = "membership.user_added"
	ActionUserRemoved        = "membership.user_removed"
	ActionPermissionsUpdated = "membership.permissions_updated"
	ActionProjectCreated     = "project.created"
	ActionProjectUpdated     = "project.updated"
	ActionProjectDeleted     = "project.deleted"
	ActionProjectCompleted   = "project.completed"
	ActionProjectReopened    = "project.reopened"
)

// Event is a single audit trail entry before persistence.
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	ActorID      string                 `json:"actor_id,omitempty"`
	ProjectID    string                 `json:"project_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Recorder defines the interface for audit event destinations
type Recorder interface {
	// Record persists an audit event to the destination
	Record(ctx context.Context, event *Event) error
	// Close cleans up any resources
	Close() error
}

// DBRecorder persists audit events to the audit_logs table.
type DBRecorder struct {
	repo *repositories.AuditRepository
}

// NewDBRecorder creates a new DBRecorder
func NewDBRecorder(repo *repositories.AuditRepository) *DBRecorder {
	return &DBRecorder{repo: repo}
}

// Record persists the event
func (r *DBRecorder) Record(ctx context.Context, event *Event) error {
	entry := &models.AuditLog{
		Action:    event.Action,
		Metadata:  event.Metadata,
		CreatedAt: event.Timestamp,
	}
	if event.ActorID != "" {
		entry.UserID = &event.ActorID
	}
	if event.ProjectID != "" {
		entry.ProjectID = &event.ProjectID
	}
	if event.ResourceType != "" {
		entry.ResourceType = &event.ResourceType
	}
	if event.ResourceID != "" {
		entry.ResourceID = &event.ResourceID
	}
	if event.IPAddress != "" {
		entry.IPAddress = &event.IPAddress
	}

	return r.repo.Create(ctx, entry)
}

// Close is a no-op; the repository's connection is owned elsewhere.
func (r *DBRecorder) Close() error {
	return nil
}

// Multi fans an event out to every configured destination. A failing
// destination does not stop the others; the last error is returned.
type Multi struct {
	recorders []Recorder
}

// NewMulti creates a Multi over the given recorders.
func NewMulti(recorders ...Recorder) *Multi {
	return &Multi{recorders: recorders}
}

// Record sends the event to all destinations
func (m *Multi) Record(ctx context.Context, event *Event) error {
	var lastErr error
	for _, r := range m.recorders {
		if err := r.Record(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all destinations
func (m *Multi) Close() error {
	var lastErr error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Config holds configuration for optional secondary audit destinations. The
// database destination is always on; file and webhook are opt-in.
type Config struct {
	File    FileConfig    `mapstructure:"file"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// NewFromConfig builds the recorder stack: the database recorder plus any
// enabled secondary destinations.
func NewFromConfig(cfg Config, repo *repositories.AuditRepository) (Recorder, error) {
	recorders := []Recorder{NewDBRecorder(repo)}

	if cfg.File.Enabled {
		fr, err := NewFileRecorder(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file audit recorder: %w", err)
		}
		recorders = append(recorders, fr)
	}

	if cfg.Webhook.Enabled {
		recorders = append(recorders, NewWebhookRecorder(cfg.Webhook))
	}

	return NewMulti(recorders...), nil
}
