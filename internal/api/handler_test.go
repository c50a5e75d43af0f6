package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/circuitbreaker"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/jobs"
	"github.com/lalithlochan/stratus/internal/notify"
	"github.com/lalithlochan/stratus/internal/session"
	"github.com/lalithlochan/stratus/internal/sqlite"
)

// testEnv is one organization with an admin, a manager and two users,
// served by a real in-memory store with inline notification delivery.
type testEnv struct {
	t       *testing.T
	store   *sqlite.Store
	issuer  *session.Issuer
	handler *Handler
	router  http.Handler

	org     *db.Organization
	admin   *db.User
	manager *db.User
	alice   *db.User
	bob     *db.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := sqlite.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	service := notify.NewService(store, logger)
	issuer := session.NewIssuer("test-secret", time.Hour)

	h := NewHandler(Deps{
		Store:    store,
		Notifier: notify.NewBackground(service, jobs.Inline{Logger: logger}, logger),
		Audit:    audit.New(store, logger),
		Sessions: issuer,
		Logger:   logger,
	})

	env := &testEnv{t: t, store: store, issuer: issuer, handler: h, router: h.Routes()}
	env.org = env.seedOrg("acme")
	env.admin = env.seedUser(env.org.ID, "admin@acme.test", access.RoleAdmin)
	env.manager = env.seedUser(env.org.ID, "manager@acme.test", access.RoleManager)
	env.alice = env.seedUser(env.org.ID, "alice@acme.test", access.RoleUser)
	env.bob = env.seedUser(env.org.ID, "bob@acme.test", access.RoleUser)
	return env
}

func (e *testEnv) seedOrg(slug string) *db.Organization {
	e.t.Helper()
	org := &db.Organization{ID: uuid.New(), Name: slug, Slug: slug}
	if err := e.store.CreateOrganization(context.Background(), org); err != nil {
		e.t.Fatalf("seeding organization: %v", err)
	}
	return org
}

func (e *testEnv) seedUser(orgID uuid.UUID, email, role string) *db.User {
	e.t.Helper()
	u := &db.User{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          email,
		Name:           strings.Split(email, "@")[0],
		Role:           role,
		IsActive:       true,
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		e.t.Fatalf("seeding user: %v", err)
	}
	return u
}

func (e *testEnv) do(as *db.User, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	req := httptest.NewRequest(method, path, jsonBody(e.t, body))
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := e.issuer.Issue(session.Session{UserID: as.ID, OrganizationID: as.OrganizationID, Role: as.Role})
		if err != nil {
			e.t.Fatalf("issuing token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) inbox(u *db.User) []*db.Notification {
	e.t.Helper()
	list, err := e.store.ListNotifications(context.Background(), db.NotificationFilter{
		UserID:         u.ID,
		OrganizationID: u.OrganizationID,
		Page:           db.Page{Limit: 100},
	})
	if err != nil {
		e.t.Fatalf("listing notifications: %v", err)
	}
	return list
}

func (e *testEnv) auditFor(entityID uuid.UUID, action string) []*db.AuditLogEntry {
	e.t.Helper()
	entries, _, err := e.store.ListAuditLogs(context.Background(), db.AuditFilter{
		OrganizationID: e.org.ID,
		EntityID:       &entityID,
		Action:         action,
		Page:           db.Page{Limit: 100},
	})
	if err != nil {
		e.t.Fatalf("listing audit log: %v", err)
	}
	return entries
}

func jsonBody(t *testing.T, body any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	return &buf
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func countType(list []*db.Notification, notifType string) int {
	n := 0
	for _, item := range list {
		if item.Type == notifType {
			n++
		}
	}
	return n
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		rr := env.do(nil, http.MethodGet, "/v1/contacts", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("deactivated user", func(t *testing.T) {
		gone := env.seedUser(env.org.ID, "gone@acme.test", access.RoleUser)
		gone.IsActive = false
		if err := env.store.UpdateUser(context.Background(), gone); err != nil {
			t.Fatalf("deactivating: %v", err)
		}
		rr := env.do(gone, http.MethodGet, "/v1/contacts", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("health needs no token", func(t *testing.T) {
		rr := env.do(nil, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})
}

func TestCreateContactAuditsAndNotifiesOthers(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{
		"firstName": "Grace",
		"lastName":  "Hopper",
		"email":     "grace@navy.test",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	contact := decodeBody[db.Contact](t, rr)

	if contact.OwnerID != env.alice.ID {
		t.Errorf("expected owner to default to creator")
	}
	if contact.Status != db.ContactStatusLead {
		t.Errorf("expected status lead, got %q", contact.Status)
	}

	entries := env.auditFor(contact.ID, db.AuditCreated)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].UserID == nil || *entries[0].UserID != env.alice.ID {
		t.Errorf("expected audit entry attributed to creator")
	}
	if entries[0].EntityName == nil || *entries[0].EntityName != "Grace Hopper" {
		t.Errorf("expected entity name Grace Hopper, got %v", entries[0].EntityName)
	}

	if n := countType(env.inbox(env.alice), notify.TypeNewContact); n != 0 {
		t.Errorf("creator should not be notified, got %d", n)
	}
	for _, u := range []*db.User{env.admin, env.manager, env.bob} {
		if n := countType(env.inbox(u), notify.TypeNewContact); n != 1 {
			t.Errorf("%s: expected 1 new_contact notification, got %d", u.Email, n)
		}
	}
}

func TestContactVisibility(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{
		"firstName":  "Private",
		"visibility": access.VisibilityPrivate,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	contact := decodeBody[db.Contact](t, rr)
	path := "/v1/contacts/" + contact.ID.String()

	tests := []struct {
		name string
		as   *db.User
		path string
		want int
	}{
		{"owner reads", env.alice, path, http.StatusOK},
		{"other user gets 404", env.bob, path, http.StatusNotFound},
		{"manager reads", env.manager, path, http.StatusOK},
		{"user showAll forbidden", env.bob, "/v1/contacts?showAll=true", http.StatusForbidden},
		{"manager showAll", env.manager, "/v1/contacts?showAll=true", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.as, http.MethodGet, tt.path, nil)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}

	rr = env.do(env.bob, http.MethodGet, "/v1/contacts", nil)
	list := decodeBody[struct {
		Data []db.Contact `json:"data"`
	}](t, rr)
	if len(list.Data) != 0 {
		t.Errorf("expected private contact hidden from bob, got %d", len(list.Data))
	}

	rr = env.do(env.alice, http.MethodPut, path, map[string]any{"visibleTo": []uuid.UUID{env.bob.ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("sharing: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(env.bob, http.MethodGet, path, nil); rr.Code != http.StatusOK {
		t.Errorf("shared contact: expected 200, got %d", rr.Code)
	}
}

func TestContactReassignmentNotifiesNewOwner(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.manager, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Ada"})
	contact := decodeBody[db.Contact](t, rr)

	rr = env.do(env.alice, http.MethodPut, "/v1/contacts/"+contact.ID.String(), map[string]any{"ownerId": env.bob.ID})
	if rr.Code != http.StatusForbidden {
		t.Errorf("user assigning to others: expected 403, got %d", rr.Code)
	}

	rr = env.do(env.manager, http.MethodPut, "/v1/contacts/"+contact.ID.String(), map[string]any{"ownerId": env.bob.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if n := countType(env.inbox(env.bob), notify.TypeContactAssigned); n != 1 {
		t.Errorf("expected 1 contact_assigned, got %d", n)
	}
	if n := len(env.auditFor(contact.ID, db.AuditAssigned)); n != 1 {
		t.Errorf("expected 1 assigned audit entry, got %d", n)
	}
}

func TestDeleteContactPermissions(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Temp"})
	contact := decodeBody[db.Contact](t, rr)
	path := "/v1/contacts/" + contact.ID.String()

	if rr := env.do(env.bob, http.MethodDelete, path, nil); rr.Code != http.StatusForbidden {
		t.Errorf("non-owner delete: expected 403, got %d", rr.Code)
	}
	if rr := env.do(env.alice, http.MethodDelete, path, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("owner delete: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(env.alice, http.MethodGet, path, nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted contact: expected 404, got %d", rr.Code)
	}
	if n := len(env.auditFor(contact.ID, db.AuditDeleted)); n != 1 {
		t.Errorf("expected 1 deleted audit entry, got %d", n)
	}
}

func TestDealWonSideEffects(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/deals", map[string]any{
		"title": "Enterprise plan",
		"value": 50000,
		"stage": db.DealStageNegotiation,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	deal := decodeBody[db.Deal](t, rr)
	if deal.Probability != 75 {
		t.Errorf("expected negotiation probability 75, got %d", deal.Probability)
	}
	if deal.Currency != "USD" {
		t.Errorf("expected default currency USD, got %q", deal.Currency)
	}

	rr = env.do(env.alice, http.MethodPut, "/v1/deals/"+deal.ID.String(), map[string]any{"stage": db.DealStageWon})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	won := decodeBody[db.Deal](t, rr)

	if won.ActualClose == nil {
		t.Error("expected actualClose to be set")
	}
	if won.Probability != 100 {
		t.Errorf("expected probability 100, got %d", won.Probability)
	}

	activities, err := env.store.ListActivities(context.Background(), db.ActivityFilter{
		OrganizationID: env.org.ID,
		DealID:         &deal.ID,
		Page:           db.Page{Limit: 10},
	})
	if err != nil {
		t.Fatalf("listing activities: %v", err)
	}
	if len(activities) != 1 || activities[0].Type != db.ActivityDealUpdated {
		t.Fatalf("expected one deal_updated activity, got %+v", activities)
	}
	if !strings.Contains(activities[0].Subject, "negotiation") || !strings.Contains(activities[0].Subject, "won") {
		t.Errorf("unexpected activity subject %q", activities[0].Subject)
	}

	if n := len(env.auditFor(deal.ID, db.AuditStageChanged)); n != 1 {
		t.Errorf("expected 1 stage_changed audit entry, got %d", n)
	}
	if n := len(env.auditFor(deal.ID, db.AuditUpdated)); n != 0 {
		t.Errorf("a stage-only change must not add an updated entry, got %d", n)
	}

	if n := countType(env.inbox(env.alice), notify.TypeDealWon); n != 0 {
		t.Errorf("actor should not be notified, got %d", n)
	}
	for _, u := range []*db.User{env.admin, env.manager, env.bob} {
		if n := countType(env.inbox(u), notify.TypeDealWon); n != 1 {
			t.Errorf("%s: expected 1 deal_won, got %d", u.Email, n)
		}
	}
}

func TestTaskAssignmentAndCompletion(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.manager, http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Call back",
		"assignedToId": env.alice.ID,
		"visibility":   access.VisibilityPrivate,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	task := decodeBody[db.Task](t, rr)

	if n := countType(env.inbox(env.alice), notify.TypeTaskAssigned); n != 1 {
		t.Errorf("expected 1 task_assigned, got %d", n)
	}
	if n := len(env.auditFor(task.ID, db.AuditAssigned)); n != 1 {
		t.Errorf("expected 1 assigned audit entry, got %d", n)
	}

	path := "/v1/tasks/" + task.ID.String()
	if rr := env.do(env.bob, http.MethodGet, path, nil); rr.Code != http.StatusNotFound {
		t.Errorf("private task for non-assignee: expected 404, got %d", rr.Code)
	}

	rr = env.do(env.alice, http.MethodPut, path, map[string]any{"status": db.TaskStatusDone})
	if rr.Code != http.StatusOK {
		t.Fatalf("assignee completing: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	done := decodeBody[db.Task](t, rr)
	if done.CompletedAt == nil {
		t.Error("expected completedAt to be set")
	}
	if n := len(env.auditFor(task.ID, db.AuditCompleted)); n != 1 {
		t.Errorf("expected 1 completed audit entry, got %d", n)
	}
	if n := countType(env.inbox(env.manager), notify.TypeTaskCompleted); n != 1 {
		t.Errorf("expected owner to get task_completed, got %d", n)
	}
}

func TestTaskAssigneeChangesAreAudited(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.manager, http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Renewal prep",
		"assignedToId": env.alice.ID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	task := decodeBody[db.Task](t, rr)
	path := "/v1/tasks/" + task.ID.String()

	steps := []struct {
		name string
		to   any
	}{
		{"unassign", nil},
		{"assign to self", env.manager.ID},
		{"assign to colleague", env.bob.ID},
	}
	for i, step := range steps {
		rr := env.do(env.manager, http.MethodPut, path, map[string]any{"assignedToId": step.to})
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step.name, rr.Code, rr.Body.String())
		}
		if n := len(env.auditFor(task.ID, db.AuditAssigned)); n != i+2 {
			t.Errorf("%s: expected %d assigned entries, got %d", step.name, i+2, n)
		}
	}

	if n := countType(env.inbox(env.manager), notify.TypeTaskAssigned); n != 0 {
		t.Errorf("self assignment must not notify, got %d", n)
	}
	if n := countType(env.inbox(env.bob), notify.TypeTaskAssigned); n != 1 {
		t.Errorf("expected bob to get task_assigned, got %d", n)
	}

	// A PUT that leaves the assignee alone adds no assigned entry.
	if rr := env.do(env.manager, http.MethodPut, path, map[string]any{"title": "Renewal prep v2"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if n := len(env.auditFor(task.ID, db.AuditAssigned)); n != 4 {
		t.Errorf("expected 4 assigned entries, got %d", n)
	}
}

func TestSelfAssignedTaskDoesNotNotify(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Mine",
		"assignedToId": env.alice.ID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := countType(env.inbox(env.alice), notify.TypeTaskAssigned); n != 0 {
		t.Errorf("expected no task_assigned for self, got %d", n)
	}

	rr = env.do(env.alice, http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Theirs",
		"assignedToId": env.bob.ID,
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("user assigning to others: expected 403, got %d", rr.Code)
	}
}

func TestActivities(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Linus"})
	contact := decodeBody[db.Contact](t, rr)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"note", map[string]any{"type": "note", "subject": "Met at conf", "contactId": contact.ID}, http.StatusCreated},
		{"system type rejected", map[string]any{"type": "deal_updated", "subject": "x", "contactId": contact.ID}, http.StatusBadRequest},
		{"no target", map[string]any{"type": "call", "subject": "x"}, http.StatusBadRequest},
		{"unknown contact", map[string]any{"type": "call", "subject": "x", "contactId": uuid.New()}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(env.alice, http.MethodPost, "/v1/activities", tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	rr = env.do(env.alice, http.MethodGet, "/v1/activities?contactId="+contact.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	list := decodeBody[struct {
		Data []db.Activity `json:"data"`
	}](t, rr)
	if len(list.Data) != 1 {
		t.Errorf("expected 1 activity, got %d", len(list.Data))
	}

	if rr := env.do(env.alice, http.MethodGet, "/v1/activities", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("list without filter: expected 400, got %d", rr.Code)
	}
}

func TestNotificationInbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, u := range []*db.User{env.alice, env.alice, env.bob} {
		err := env.store.CreateNotification(ctx, &db.Notification{
			ID:             uuid.New(),
			Type:           notify.TypeSystem,
			Title:          "hello",
			UserID:         u.ID,
			OrganizationID: env.org.ID,
		})
		if err != nil {
			t.Fatalf("seeding notification: %v", err)
		}
	}

	rr := env.do(env.alice, http.MethodGet, "/v1/notifications?unread=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page := decodeBody[struct {
		Count       int `json:"count"`
		UnreadCount int `json:"unreadCount"`
	}](t, rr)
	if page.Count != 2 || page.UnreadCount != 2 {
		t.Errorf("expected 2 unread, got count=%d unread=%d", page.Count, page.UnreadCount)
	}

	if rr := env.do(env.alice, http.MethodPatch, "/v1/notifications", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Errorf("empty patch: expected 400, got %d", rr.Code)
	}

	rr = env.do(env.alice, http.MethodPatch, "/v1/notifications", map[string]any{"markAllRead": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody[map[string]int](t, rr)["updated"]; got != 2 {
		t.Errorf("expected 2 updated, got %d", got)
	}

	bobUnread, err := env.store.CountUnreadNotifications(ctx, env.bob.ID, env.org.ID)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if bobUnread != 1 {
		t.Errorf("markAllRead leaked into another inbox: bob has %d unread", bobUnread)
	}

	bobItems := env.inbox(env.bob)
	rr = env.do(env.alice, http.MethodDelete, "/v1/notifications", map[string]any{"ids": []uuid.UUID{bobItems[0].ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeBody[map[string]int](t, rr)["deleted"]; got != 0 {
		t.Errorf("deleted another user's notification: %d", got)
	}
}

func TestSendNotification(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		as   *db.User
		body map[string]any
		want int
	}{
		{"self", env.alice, map[string]any{"title": "Reminder"}, http.StatusAccepted},
		{"user to other", env.alice, map[string]any{"title": "Hey", "userId": env.bob.ID}, http.StatusForbidden},
		{"user to org", env.alice, map[string]any{"title": "Hey", "target": "org"}, http.StatusForbidden},
		{"manager to admins", env.manager, map[string]any{"title": "Heads up", "target": "admins"}, http.StatusAccepted},
		{"bad type", env.manager, map[string]any{"title": "x", "type": "bogus"}, http.StatusBadRequest},
		{"missing title", env.manager, map[string]any{"message": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.as, http.MethodPost, "/v1/notifications", tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	if n := countType(env.inbox(env.alice), notify.TypeSystem); n != 1 {
		t.Errorf("expected self notification, got %d", n)
	}
	if n := countType(env.inbox(env.admin), notify.TypeSystem); n != 1 {
		t.Errorf("expected admin notification, got %d", n)
	}
	if n := countType(env.inbox(env.bob), notify.TypeSystem); n != 0 {
		t.Errorf("forbidden send reached bob: %d", n)
	}
}

func TestLastAdminGuard(t *testing.T) {
	env := newTestEnv(t)
	adminPath := "/v1/users/" + env.admin.ID.String()

	rr := env.do(env.admin, http.MethodDelete, adminPath, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "last administrator") {
		t.Errorf("expected last administrator detail, got %s", rr.Body.String())
	}

	rr = env.do(env.admin, http.MethodPatch, adminPath, map[string]any{"role": access.RoleUser})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("demoting last admin: expected 400, got %d", rr.Code)
	}

	rr = env.do(env.admin, http.MethodPatch, "/v1/users/"+env.manager.ID.String(), map[string]any{"role": access.RoleAdmin})
	if rr.Code != http.StatusOK {
		t.Fatalf("promoting: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := countType(env.inbox(env.manager), notify.TypeUserRoleChanged); n != 1 {
		t.Errorf("expected user_role_changed, got %d", n)
	}

	rr = env.do(env.admin, http.MethodPatch, adminPath, map[string]any{"role": access.RoleUser})
	if rr.Code != http.StatusOK {
		t.Errorf("demoting with another admin: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUserManagement(t *testing.T) {
	env := newTestEnv(t)
	other := env.seedOrg("globex")
	stranger := env.seedUser(other.ID, "x@globex.test", access.RoleUser)

	tests := []struct {
		name   string
		as     *db.User
		method string
		target uuid.UUID
		body   any
		want   int
	}{
		{"manager cannot patch", env.manager, http.MethodPatch, env.bob.ID, map[string]any{"role": "admin"}, http.StatusForbidden},
		{"other tenant is 404", env.admin, http.MethodPatch, stranger.ID, map[string]any{"name": "x"}, http.StatusNotFound},
		{"invalid role", env.admin, http.MethodPatch, env.bob.ID, map[string]any{"role": "owner"}, http.StatusBadRequest},
		{"deactivate user", env.admin, http.MethodDelete, env.bob.ID, nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.as, tt.method, "/v1/users/"+tt.target.String(), tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	bob, err := env.store.GetUser(context.Background(), env.bob.ID)
	if err != nil {
		t.Fatalf("loading bob: %v", err)
	}
	if bob.IsActive {
		t.Error("expected bob to be deactivated")
	}
	if rr := env.do(env.bob, http.MethodGet, "/v1/profile", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("deactivated user: expected 401, got %d", rr.Code)
	}
}

func TestProfilePreferencesSuppressNotifications(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(env.bob, http.MethodPatch, "/v1/profile", map[string]any{
		"preferences": map[string]any{"notifications": map[string]bool{notify.TypeNewContact: false}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(env.bob, http.MethodPatch, "/v1/profile", map[string]any{
		"preferences": map[string]any{"notifications": map[string]bool{"nonsense": false}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown type: expected 400, got %d", rr.Code)
	}

	env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Muted"})

	if n := countType(env.inbox(env.bob), notify.TypeNewContact); n != 0 {
		t.Errorf("disabled type still delivered: %d", n)
	}
	if n := countType(env.inbox(env.manager), notify.TypeNewContact); n != 1 {
		t.Errorf("expected manager notified, got %d", n)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		as   *db.User
		body map[string]any
		want int
	}{
		{"manager forbidden", env.manager, map[string]any{"emailNotifications": true}, http.StatusForbidden},
		{"bad visibility", env.admin, map[string]any{"defaultVisibility": "team"}, http.StatusBadRequest},
		{"bad webhook", env.admin, map[string]any{"webhookUrl": "ftp://x"}, http.StatusBadRequest},
		{"admin updates", env.admin, map[string]any{"defaultVisibility": "private", "webhookUrl": "https://hooks.test/x"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.as, http.MethodPut, "/v1/settings", tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	if n := len(env.auditFor(env.org.ID, db.AuditSettingsChanged)); n != 1 {
		t.Errorf("expected 1 settings_changed entry, got %d", n)
	}

	rr := env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Hidden"})
	contact := decodeBody[db.Contact](t, rr)
	if contact.Visibility != access.VisibilityPrivate {
		t.Errorf("expected org default visibility private, got %q", contact.Visibility)
	}
}

func TestAuditLogAccess(t *testing.T) {
	env := newTestEnv(t)
	env.do(env.alice, http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Audited"})

	if rr := env.do(env.alice, http.MethodGet, "/v1/audit", nil); rr.Code != http.StatusForbidden {
		t.Errorf("user: expected 403, got %d", rr.Code)
	}

	rr := env.do(env.manager, http.MethodGet, "/v1/audit?entity=contact&action=created", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page := decodeBody[struct {
		Total int `json:"total"`
	}](t, rr)
	if page.Total != 1 {
		t.Errorf("expected 1 entry, got %d", page.Total)
	}

	if rr := env.do(env.manager, http.MethodGet, "/v1/audit?startDate=yesterday", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rr.Code)
	}
}

func TestHealthReportsProviderCircuits(t *testing.T) {
	env := newTestEnv(t)

	registry := circuitbreaker.NewRegistry()
	webhook := circuitbreaker.New(circuitbreaker.Config{Name: "webhook", Threshold: 1}, zap.NewNop())
	registry.Add(webhook)
	webhook.Failure()

	env.handler.breakers = registry
	env.router = env.handler.Routes()

	rr := env.do(nil, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("an open provider circuit must not fail health, got %d", rr.Code)
	}
	resp := decodeBody[HealthResponse](t, rr)
	if len(resp.Providers) != 1 || resp.Providers[0].State != "open" {
		t.Errorf("expected webhook circuit open, got %+v", resp.Providers)
	}
}
