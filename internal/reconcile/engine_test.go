package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"testing"

	"github.com/collab-hub/collab-hub/internal/audit"
	"github.com/collab-hub/collab-hub/internal/db/models"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
	"github.com/collab-hub/collab-hub/internal/permission"
)

// ---------------------------------------------------------------------------
// In-memory store and transaction runner
// ---------------------------------------------------------------------------

var errStore = errors.New("store failure")

type fakeStore struct {
	companies        map[string]*models.Company
	users            map[string]*models.User
	projectCompanies map[string]bool
	memberships      map[string]permission.Set

	failOn string // method name that returns errStore
}

func (s *fakeStore) fail(method string) bool { return s.failOn == method }

func (s *fakeStore) CurrentCompanies(_ context.Context, _ string) ([]*models.Company, error) {
	if s.fail("CurrentCompanies") {
		return nil, errStore
	}
	out := make([]*models.Company, 0)
	for id := range s.projectCompanies {
		out = append(out, s.companies[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) CurrentMembers(_ context.Context, _ string) ([]*models.Member, error) {
	if s.fail("CurrentMembers") {
		return nil, errStore
	}
	out := make([]*models.Member, 0)
	for id, perms := range s.memberships {
		out = append(out, &models.Member{User: *s.users[id], Permissions: perms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) EligibleUsers(_ context.Context, companyIDs []string) ([]*models.User, error) {
	if s.fail("EligibleUsers") {
		return nil, errStore
	}
	allowed := make(map[string]bool, len(companyIDs))
	for _, id := range companyIDs {
		allowed[id] = true
	}
	out := make([]*models.User, 0)
	for _, u := range s.users {
		if allowed[u.CompanyID] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) SetCompanies(_ context.Context, _ string, companyIDs []string) error {
	if s.fail("SetCompanies") {
		return errStore
	}
	s.projectCompanies = make(map[string]bool, len(companyIDs))
	for _, id := range companyIDs {
		s.projectCompanies[id] = true
	}
	return nil
}

func (s *fakeStore) AddCompany(_ context.Context, _, companyID string) error {
	s.projectCompanies[companyID] = true
	return nil
}

func (s *fakeStore) RemoveCompany(_ context.Context, _, companyID string) error {
	delete(s.projectCompanies, companyID)
	return nil
}

func (s *fakeStore) RemoveUser(_ context.Context, _, userID string) error {
	if s.fail("RemoveUser") {
		return errStore
	}
	delete(s.memberships, userID)
	return nil
}

func (s *fakeStore) RemoveCompanyMembers(_ context.Context, _, companyID string) error {
	for id := range s.memberships {
		if s.users[id].CompanyID == companyID {
			delete(s.memberships, id)
		}
	}
	return nil
}

func (s *fakeStore) UpsertPermissions(_ context.Context, _, userID string, perms permission.Set) error {
	if s.fail("UpsertPermissions") {
		return errStore
	}
	s.memberships[userID] = perms
	return nil
}

// fakeRunner snapshots the store before fn and restores it when fn fails,
// mimicking transaction rollback.
type fakeRunner struct {
	store *fakeStore
}

func (r *fakeRunner) InTx(_ context.Context, fn func(repositories.Store) error) error {
	companies := make(map[string]bool, len(r.store.projectCompanies))
	for k, v := range r.store.projectCompanies {
		companies[k] = v
	}
	memberships := make(map[string]permission.Set, len(r.store.memberships))
	for k, v := range r.store.memberships {
		memberships[k] = v
	}

	if err := fn(r.store); err != nil {
		r.store.projectCompanies = companies
		r.store.memberships = memberships
		return err
	}
	return nil
}

type stubRecorder struct {
	events []*audit.Event
	err    error
}

func (s *stubRecorder) Record(_ context.Context, event *audit.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func (s *stubRecorder) Close() error { return nil }

// ---------------------------------------------------------------------------
// Fixtures
//
// Owner company "owner" with root user "root" and admin "admin". Client
// companies "ca" (users u1, u2) and "cb" (user u3). The project starts with
// companies {owner, ca} and members {root, u1, u2}.
// ---------------------------------------------------------------------------

func newFixture() (*fakeStore, Directory, *models.Project) {
	owner := &models.Company{ID: "owner", Name: "acme", IsOwner: true}
	ownerID := owner.ID
	ca := &models.Company{ID: "ca", Name: "alpha", ClientOf: &ownerID}
	cb := &models.Company{ID: "cb", Name: "beta", ClientOf: &ownerID}

	store := &fakeStore{
		companies: map[string]*models.Company{"owner": owner, "ca": ca, "cb": cb},
		users: map[string]*models.User{
			"root":  {ID: "root", CompanyID: "owner", IsRoot: true, IsAdmin: true},
			"admin": {ID: "admin", CompanyID: "owner", IsAdmin: true},
			"u1":    {ID: "u1", CompanyID: "ca"},
			"u2":    {ID: "u2", CompanyID: "ca"},
			"u3":    {ID: "u3", CompanyID: "cb"},
		},
		projectCompanies: map[string]bool{"owner": true, "ca": true},
		memberships: map[string]permission.Set{
			"root": permission.All,
			"u1":   permission.ManageTasks,
			"u2":   permission.None,
		},
	}

	dir := Directory{Owner: owner, Clients: []*models.Company{ca, cb}}
	project := &models.Project{ID: "proj-1", OwnerCompanyID: "owner"}
	return store, dir, project
}

func newEngine(store *fakeStore, recorder audit.Recorder) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(&fakeRunner{store: store}, recorder, logger)
}

func companyIDs(store *fakeStore) []string {
	ids := make([]string, 0, len(store.projectCompanies))
	for id := range store.projectCompanies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func memberIDs(store *fakeStore) []string {
	ids := make([]string, 0, len(store.memberships))
	for id := range store.memberships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func admin(store *fakeStore) *models.User { return store.users["admin"] }

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

func TestReconcile_OwnerAlwaysParticipates(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	// Empty submission: every client company dropped, owner forced in.
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, Submission{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusOK {
		t.Errorf("Status = %s, want %s", result.Status, StatusOK)
	}
	if got := companyIDs(store); !reflect.DeepEqual(got, []string{"owner"}) {
		t.Errorf("companies = %v, want [owner]", got)
	}
	// Users belonging only to dropped client companies are gone.
	if got := memberIDs(store); !reflect.DeepEqual(got, []string{"root"}) {
		t.Errorf("members = %v, want [root]", got)
	}
}

func TestReconcile_RootUserUntouched(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	// Root is absent from the user list and their permission submission sets
	// every flag false. Neither may affect root's membership.
	sub := Submission{
		CompanyIDs:  []string{"ca"},
		UserIDs:     []string{"u1"},
		Permissions: map[string]map[string]bool{"root": {"can_manage_tasks": false}},
	}
	if _, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.memberships["root"] != permission.All {
		t.Errorf("root permissions = %v, want unchanged (All)", store.memberships["root"])
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	sub := Submission{
		CompanyIDs:  []string{"ca", "cb"},
		UserIDs:     []string{"u1", "u3"},
		Permissions: map[string]map[string]bool{"u1": {"can_manage_files": true}},
	}

	if _, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	afterFirstCompanies := companyIDs(store)
	afterFirstMembers := memberIDs(store)
	afterFirstPerms := store.memberships["u1"]

	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !reflect.DeepEqual(companyIDs(store), afterFirstCompanies) {
		t.Errorf("companies changed on repeat: %v vs %v", companyIDs(store), afterFirstCompanies)
	}
	if !reflect.DeepEqual(memberIDs(store), afterFirstMembers) {
		t.Errorf("members changed on repeat: %v vs %v", memberIDs(store), afterFirstMembers)
	}
	if store.memberships["u1"] != afterFirstPerms {
		t.Errorf("permissions changed on repeat")
	}
	if len(result.UsersAdded) != 0 || len(result.UsersRemoved) != 0 || len(result.PermissionsUpdated) != 0 {
		t.Errorf("second run reported changes: %+v", result)
	}
}

func TestReconcile_OrphanElimination(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	// Company ca is dropped; u1 is explicitly listed as keep but must be
	// forced out because their company no longer participates.
	sub := Submission{
		CompanyIDs: []string{},
		UserIDs:    []string{"u1"},
	}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, stillMember := store.memberships["u1"]; stillMember {
		t.Error("u1 kept membership after their company was dropped")
	}
	if !reflect.DeepEqual(result.UsersRemoved, []string{"u1", "u2"}) {
		t.Errorf("UsersRemoved = %v, want [u1 u2]", result.UsersRemoved)
	}
}

func TestReconcile_PermissionResetForReconfirmedMember(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	// u1 currently holds ManageTasks and is re-confirmed without a permission
	// entry: permissions reset to the all-false baseline.
	sub := Submission{
		CompanyIDs: []string{"ca"},
		UserIDs:    []string{"u1", "u2"},
	}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.memberships["u1"] != permission.None {
		t.Errorf("u1 permissions = %v, want baseline", store.memberships["u1"])
	}
	if !reflect.DeepEqual(result.PermissionsUpdated, []string{"u1"}) {
		t.Errorf("PermissionsUpdated = %v, want [u1]", result.PermissionsUpdated)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestReconcile_KeepOneDropOne(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	sub := Submission{
		CompanyIDs: []string{"ca"},
		UserIDs:    []string{"u1"},
	}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := companyIDs(store); !reflect.DeepEqual(got, []string{"ca", "owner"}) {
		t.Errorf("companies = %v, want [ca owner]", got)
	}
	if got := memberIDs(store); !reflect.DeepEqual(got, []string{"root", "u1"}) {
		t.Errorf("members = %v, want [root u1]", got)
	}
	if store.memberships["u1"] != permission.None {
		t.Errorf("u1 permissions = %v, want baseline", store.memberships["u1"])
	}
	if !reflect.DeepEqual(result.UsersRemoved, []string{"u2"}) {
		t.Errorf("UsersRemoved = %v, want [u2]", result.UsersRemoved)
	}
}

func TestReconcile_AddsNewMembers(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	sub := Submission{
		CompanyIDs: []string{"ca", "cb"},
		UserIDs:    []string{"u1", "u2", "u3"},
		Permissions: map[string]map[string]bool{
			"u3": {"can_upload_files": true, "can_manage_files": true},
		},
	}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result.UsersAdded, []string{"u3"}) {
		t.Errorf("UsersAdded = %v, want [u3]", result.UsersAdded)
	}
	want := permission.Decode(map[string]bool{"can_upload_files": true, "can_manage_files": true})
	if store.memberships["u3"] != want {
		t.Errorf("u3 permissions = %v, want %v", store.memberships["u3"], want)
	}
	if !reflect.DeepEqual(result.CompaniesAdded, []string{"cb"}) {
		t.Errorf("CompaniesAdded = %v, want [cb]", result.CompaniesAdded)
	}
}

func TestReconcile_UnknownIDsDroppedSilently(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	sub := Submission{
		CompanyIDs: []string{"ca", "no-such-company", "owner"},
		UserIDs:    []string{"u1", "no-such-user", "u1"},
	}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := companyIDs(store); !reflect.DeepEqual(got, []string{"ca", "owner"}) {
		t.Errorf("companies = %v, want [ca owner]", got)
	}
	if got := memberIDs(store); !reflect.DeepEqual(got, []string{"root", "u1"}) {
		t.Errorf("members = %v, want [root u1]", got)
	}
	if len(result.UsersAdded) != 0 {
		t.Errorf("UsersAdded = %v, want none", result.UsersAdded)
	}
}

// ---------------------------------------------------------------------------
// Failure modes
// ---------------------------------------------------------------------------

func TestReconcile_AuthorizationDenied(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	beforeCompanies := companyIDs(store)
	beforeMembers := memberIDs(store)

	// u1 is not an administrator.
	_, err := engine.Reconcile(context.Background(), store.users["u1"], project, dir, Submission{})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("error = %v, want ErrNotAuthorized", err)
	}
	if !reflect.DeepEqual(companyIDs(store), beforeCompanies) {
		t.Error("companies mutated on denied request")
	}
	if !reflect.DeepEqual(memberIDs(store), beforeMembers) {
		t.Error("members mutated on denied request")
	}
}

func TestReconcile_RootActorAlwaysAllowed(t *testing.T) {
	store, dir, project := newFixture()
	engine := newEngine(store, &stubRecorder{})

	sub := Submission{CompanyIDs: []string{"ca"}, UserIDs: []string{"u1"}}
	if _, err := engine.Reconcile(context.Background(), store.users["root"], project, dir, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReconcile_StoreFailureRollsBack(t *testing.T) {
	store, dir, project := newFixture()
	store.failOn = "UpsertPermissions"
	engine := newEngine(store, &stubRecorder{})

	beforeCompanies := companyIDs(store)
	beforeMembers := memberIDs(store)

	sub := Submission{CompanyIDs: []string{"ca"}, UserIDs: []string{"u1"}}
	_, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if !errors.Is(err, errStore) {
		t.Fatalf("error = %v, want store failure", err)
	}
	if !reflect.DeepEqual(companyIDs(store), beforeCompanies) {
		t.Error("companies not rolled back after store failure")
	}
	if !reflect.DeepEqual(memberIDs(store), beforeMembers) {
		t.Error("members not rolled back after store failure")
	}
}

func TestReconcile_AuditFailureIsPartialSuccess(t *testing.T) {
	store, dir, project := newFixture()
	recorder := &stubRecorder{err: errors.New("sink down")}
	engine := newEngine(store, recorder)

	sub := Submission{CompanyIDs: []string{"ca"}, UserIDs: []string{"u1"}}
	result, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("Status = %s, want %s", result.Status, StatusPartial)
	}
	if len(result.AuditErrors) == 0 {
		t.Error("expected audit errors, got none")
	}
	// The membership change itself still applied.
	if got := memberIDs(store); !reflect.DeepEqual(got, []string{"root", "u1"}) {
		t.Errorf("members = %v, want [root u1]", got)
	}
}

func TestReconcile_EmitsAuditEvents(t *testing.T) {
	store, dir, project := newFixture()
	recorder := &stubRecorder{}
	engine := newEngine(store, recorder)

	sub := Submission{
		CompanyIDs: []string{"cb"},
		UserIDs:    []string{"u3"},
	}
	if _, err := engine.Reconcile(context.Background(), admin(store), project, dir, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	actions := make(map[string]int)
	for _, event := range recorder.events {
		actions[event.Action]++
		if event.ActorID != "admin" {
			t.Errorf("ActorID = %s, want admin", event.ActorID)
		}
		if event.ProjectID != "proj-1" {
			t.Errorf("ProjectID = %s, want proj-1", event.ProjectID)
		}
	}
	if actions[audit.ActionCompanyAdded] != 1 || actions[audit.ActionCompanyRemoved] != 1 {
		t.Errorf("company events = %v, want one added and one removed", actions)
	}
	if actions[audit.ActionUserRemoved] != 2 {
		t.Errorf("user_removed events = %d, want 2", actions[audit.ActionUserRemoved])
	}
	if actions[audit.ActionUserAdded] != 1 {
		t.Errorf("user_added events = %d, want 1", actions[audit.ActionUserAdded])
	}
}
