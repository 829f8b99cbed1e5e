// Package reconcile implements the membership reconciliation engine: given a
// project's current membership and a submitted desired-state snapshot, it
// computes and applies the company and member changes that bring the two in
// line, while enforcing the structural guarantees no submission may violate.
// The owner company always participates in every project, and the owner
// company's root user can never be removed from a project or have their
// permissions rewritten, no matter what the caller submits.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/collab-hub/collab-hub/internal/audit"
	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
	"github.com/collab-hub/collab-hub/internal/permission"
	"github.com/collab-hub/collab-hub/internal/policy"
	"github.com/collab-hub/collab-hub/internal/telemetry"
)

// ErrNotAuthorized is returned when the actor lacks the manage capability for
// the project. Nothing has been written when it is returned.
var ErrNotAuthorized = errors.New("not authorized to manage project membership")

// TxRunner executes a function against a Store bound to a single database
// transaction. *repositories.MembershipRepository satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(repositories.Store) error) error
}

// Directory supplies the company topology the engine validates submissions
// against. It is loaded per request rather than resolved through any ambient
// lookup, so the engine stays testable with fixtures.
type Directory struct {
	Owner   *models.Company
	Clients []*models.Company
}

// Submission is the desired-state snapshot from the caller: which companies
// should keep participating, which users should remain members, and a sparse
// per-user permission map. IDs that resolve to nothing are dropped silently;
// they are treated as no-ops, not errors.
type Submission struct {
	CompanyIDs  []string
	UserIDs     []string
	Permissions map[string]map[string]bool
}

// Status classifies the outcome of a reconciliation.
type Status string

const (
	// StatusOK means all mutations and audit records were applied.
	StatusOK Status = "ok"
	// StatusPartial means the membership changes committed but one or more
	// audit records could not be written.
	StatusPartial Status = "partial"
)

// Result describes what a reconciliation changed. The ID slices are sorted.
type Result struct {
	Status             Status
	CompaniesAdded     []string
	CompaniesRemoved   []string
	UsersAdded         []string
	UsersRemoved       []string
	PermissionsUpdated []string
	AuditErrors        []error
}

// Engine applies desired-state membership submissions to projects.
type Engine struct {
	runner   TxRunner
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewEngine creates a new Engine
func NewEngine(runner TxRunner, recorder audit.Recorder, logger *slog.Logger) *Engine {
	return &Engine{runner: runner, recorder: recorder, logger: logger}
}

// Reconcile brings the project's persisted membership in line with the
// submission. Steps run inside one transaction: authorization is checked
// against current state first and nothing is written when it fails; a store
// error rolls everything back. Audit records are written after commit and
// their failure degrades the result to StatusPartial instead of failing the
// call.
func (e *Engine) Reconcile(ctx context.Context, actor *models.User, project *models.Project, dir Directory, sub Submission) (*Result, error) {
	result := &Result{Status: StatusOK}
	var events []*audit.Event

	candidateCompanies := dedupe(sub.CompanyIDs)
	candidateUsers := dedupe(sub.UserIDs)

	clients := make(map[string]bool, len(dir.Clients))
	for _, c := range dir.Clients {
		clients[c.ID] = true
	}

	// The owner participates unconditionally; candidate companies that are not
	// real clients of the owner are dropped.
	validSet := map[string]bool{dir.Owner.ID: true}
	for id := range candidateCompanies {
		if clients[id] {
			validSet[id] = true
		}
	}
	validCompanyIDs := sortedKeys(validSet)

	err := e.runner.InTx(ctx, func(store repositories.Store) error {
		currentCompanies, err := store.CurrentCompanies(ctx, project.ID)
		if err != nil {
			return err
		}
		currentIDs := make([]string, 0, len(currentCompanies))
		for _, c := range currentCompanies {
			currentIDs = append(currentIDs, c.ID)
		}

		allowed := policy.CanManage(policy.Input{
			Actor:                   actor,
			Project:                 project,
			ParticipatingCompanyIDs: currentIDs,
		})
		if !allowed {
			return ErrNotAuthorized
		}

		members, err := store.CurrentMembers(ctx, project.ID)
		if err != nil {
			return err
		}

		if err := store.SetCompanies(ctx, project.ID, validCompanyIDs); err != nil {
			return err
		}
		result.CompaniesAdded, result.CompaniesRemoved = diffIDs(currentIDs, validCompanyIDs)

		eligible, err := store.EligibleUsers(ctx, validCompanyIDs)
		if err != nil {
			return err
		}
		eligibleByID := make(map[string]*models.User, len(eligible))
		for _, u := range eligible {
			eligibleByID[u.ID] = u
		}

		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		consumed := make(map[string]bool)
		for _, member := range members {
			if e.isRootOfOwner(&member.User, dir.Owner.ID) {
				consumed[member.ID] = true
				continue
			}

			keep := candidateUsers[member.ID] && eligibleByID[member.ID] != nil
			if !keep {
				if err := store.RemoveUser(ctx, project.ID, member.ID); err != nil {
					return err
				}
				result.UsersRemoved = append(result.UsersRemoved, member.ID)
				events = append(events, e.event(actor, project, audit.ActionUserRemoved, "membership", member.ID, nil))
				continue
			}

			// A re-confirmed member with no permission entry is reset to the
			// all-false baseline, not left unchanged.
			perms := permission.Decode(sub.Permissions[member.ID])
			if err := store.UpsertPermissions(ctx, project.ID, member.ID, perms); err != nil {
				return err
			}
			consumed[member.ID] = true
			if perms != member.Permissions {
				result.PermissionsUpdated = append(result.PermissionsUpdated, member.ID)
				events = append(events, e.event(actor, project, audit.ActionPermissionsUpdated, "membership", member.ID,
					map[string]interface{}{"permissions": perms.Encode()}))
			}
		}

		for _, id := range sortedKeys(candidateUsers) {
			if consumed[id] {
				continue
			}
			user := eligibleByID[id]
			if user == nil || e.isRootOfOwner(user, dir.Owner.ID) {
				continue
			}
			perms := permission.Decode(sub.Permissions[id])
			if err := store.UpsertPermissions(ctx, project.ID, id, perms); err != nil {
				return err
			}
			result.UsersAdded = append(result.UsersAdded, id)
			events = append(events, e.event(actor, project, audit.ActionUserAdded, "membership", id,
				map[string]interface{}{"permissions": perms.Encode()}))
		}

		for _, id := range result.CompaniesAdded {
			events = append(events, e.event(actor, project, audit.ActionCompanyAdded, "company", id, nil))
		}
		for _, id := range result.CompaniesRemoved {
			events = append(events, e.event(actor, project, audit.ActionCompanyRemoved, "company", id, nil))
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			telemetry.ReconciliationsTotal.WithLabelValues("denied").Inc()
			return nil, ErrNotAuthorized
		}
		telemetry.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Audit records are best-effort after commit. Failures never undo the
	// membership change.
	for _, event := range events {
		if err := e.recorder.Record(ctx, event); err != nil {
			e.logger.Warn("audit record failed",
				"action", event.Action,
				"project_id", event.ProjectID,
				"error", err)
			result.AuditErrors = append(result.AuditErrors, err)
		}
	}
	if len(result.AuditErrors) > 0 {
		result.Status = StatusPartial
	}

	telemetry.ReconciliationsTotal.WithLabelValues(string(result.Status)).Inc()
	telemetry.MembersRemovedTotal.Add(float64(len(result.UsersRemoved)))
	telemetry.MembersAddedTotal.Add(float64(len(result.UsersAdded)))

	return result, nil
}

func (e *Engine) isRootOfOwner(u *models.User, ownerCompanyID string) bool {
	return u.IsRoot && u.CompanyID == ownerCompanyID
}

func (e *Engine) event(actor *models.User, project *models.Project, action, resourceType, resourceID string, metadata map[string]interface{}) *audit.Event {
	return &audit.Event{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		ActorID:      actor.ID,
		ProjectID:    project.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
}

func dedupe(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffIDs compares the current and desired ID sets and returns what the
// desired set adds and removes, both sorted.
func diffIDs(current, desired []string) (added, removed []string) {
	currentSet := dedupe(current)
	desiredSet := dedupe(desired)

	for _, id := range desired {
		if !currentSet[id] {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !desiredSet[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
