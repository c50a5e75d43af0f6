package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func seedOrg(t *testing.T, s *Store, slug string) *db.Organization {
	t.Helper()
	org := &db.Organization{ID: uuid.New(), Name: slug, Slug: slug}
	require.NoError(t, s.CreateOrganization(context.Background(), org))
	return org
}

func seedUser(t *testing.T, s *Store, orgID uuid.UUID, email, role string) *db.User {
	t.Helper()
	u := &db.User{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          email,
		Name:           email,
		Role:           role,
		IsActive:       true,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.runMigrations())

	var version int
	require.NoError(t, s.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")

	u := seedUser(t, s, org.ID, "ana@acme.test", access.RoleAdmin)
	u.Preferences.Notifications = map[string]bool{"deal_won": false}
	require.NoError(t, s.UpdateUser(ctx, u))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, got.OrganizationID)
	assert.True(t, got.IsActive)
	assert.False(t, got.Preferences.NotificationEnabled("deal_won"))
	assert.True(t, got.Preferences.NotificationEnabled("deal_lost"))

	err = s.CreateUser(ctx, &db.User{ID: uuid.New(), OrganizationID: org.ID, Email: u.Email, Name: "dup", Role: access.RoleUser})
	assert.True(t, errors.Is(err, db.ErrConflict))

	_, err = s.GetUser(ctx, uuid.New())
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestListActiveUsersByRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	other := seedOrg(t, s, "globex")

	admin := seedUser(t, s, org.ID, "admin@acme.test", access.RoleAdmin)
	manager := seedUser(t, s, org.ID, "manager@acme.test", access.RoleManager)
	seedUser(t, s, org.ID, "user@acme.test", access.RoleUser)
	seedUser(t, s, other.ID, "admin@globex.test", access.RoleAdmin)

	inactive := seedUser(t, s, org.ID, "old@acme.test", access.RoleAdmin)
	inactive.IsActive = false
	require.NoError(t, s.UpdateUser(ctx, inactive))

	all, err := s.ListActiveUsers(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	staff, err := s.ListActiveUsers(ctx, org.ID, access.RoleAdmin, access.RoleManager)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.ElementsMatch(t, []uuid.UUID{admin.ID, manager.ID}, []uuid.UUID{staff[0].ID, staff[1].ID})

	n, err := s.CountActiveAdmins(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestContactVisibility(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	other := seedOrg(t, s, "globex")
	owner := seedUser(t, s, org.ID, "owner@acme.test", access.RoleUser)
	viewer := seedUser(t, s, org.ID, "viewer@acme.test", access.RoleUser)
	outsider := seedUser(t, s, other.ID, "x@globex.test", access.RoleUser)

	mk := func(orgID, ownerID uuid.UUID, name, visibility string, grants ...uuid.UUID) *db.Contact {
		c := &db.Contact{
			ID:             uuid.New(),
			OrganizationID: orgID,
			FirstName:      name,
			Status:         db.ContactStatusLead,
			OwnerID:        ownerID,
			Visibility:     visibility,
			VisibleTo:      grants,
		}
		require.NoError(t, s.CreateContact(ctx, c))
		return c
	}

	shared := mk(org.ID, owner.ID, "shared", access.VisibilityOrg)
	private := mk(org.ID, owner.ID, "private", access.VisibilityPrivate)
	granted := mk(org.ID, owner.ID, "granted", access.VisibilityPrivate, viewer.ID)
	mk(other.ID, outsider.ID, "foreign", access.VisibilityOrg)

	names := func(f db.ContactFilter) []string {
		t.Helper()
		list, err := s.ListContacts(ctx, f)
		require.NoError(t, err)
		out := make([]string, 0, len(list))
		for _, c := range list {
			out = append(out, c.FirstName)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"shared", "granted"},
		names(db.ContactFilter{Scope: access.ViewerScope(org.ID, viewer.ID)}))
	assert.ElementsMatch(t, []string{"shared", "private", "granted"},
		names(db.ContactFilter{Scope: access.ViewerScope(org.ID, owner.ID)}))
	assert.ElementsMatch(t, []string{"shared", "private", "granted"},
		names(db.ContactFilter{Scope: access.TenantScope(org.ID)}))
	assert.ElementsMatch(t, []string{"foreign"},
		names(db.ContactFilter{Scope: access.TenantScope(other.ID)}))

	got, err := s.GetContact(ctx, org.ID, granted.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{viewer.ID}, got.VisibleTo)

	_, err = s.GetContact(ctx, other.ID, shared.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound))

	// A corrupt grant list is treated as no grant.
	_, err = s.db.Exec(`UPDATE contacts SET visible_to = ? WHERE id = ?`, "{not json", private.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shared", "granted"},
		names(db.ContactFilter{Scope: access.ViewerScope(org.ID, viewer.ID)}))
	got, err = s.GetContact(ctx, org.ID, private.ID)
	require.NoError(t, err)
	assert.Empty(t, got.VisibleTo)
}

func TestStringEncodedGrantListIsVisible(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	owner := seedUser(t, s, org.ID, "owner@acme.test", access.RoleUser)
	viewer := seedUser(t, s, org.ID, "viewer@acme.test", access.RoleUser)
	stranger := seedUser(t, s, org.ID, "stranger@acme.test", access.RoleUser)

	c := &db.Contact{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		FirstName:      "legacy",
		Status:         db.ContactStatusLead,
		OwnerID:        owner.ID,
		Visibility:     access.VisibilityPrivate,
	}
	require.NoError(t, s.CreateContact(ctx, c))

	// Older clients stored the array as a JSON string.
	wrapped := `"[\"` + viewer.ID.String() + `\"]"`
	_, err := s.db.Exec(`UPDATE contacts SET visible_to = ? WHERE id = ?`, wrapped, c.ID)
	require.NoError(t, err)

	got, err := s.GetContact(ctx, org.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{viewer.ID}, got.VisibleTo)

	list, err := s.ListContacts(ctx, db.ContactFilter{Scope: access.ViewerScope(org.ID, viewer.ID)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	list, err = s.ListContacts(ctx, db.ContactFilter{Scope: access.ViewerScope(org.ID, stranger.ID)})
	require.NoError(t, err)
	assert.Empty(t, list)

	// A string that does not hold an array grants nothing.
	_, err = s.db.Exec(`UPDATE contacts SET visible_to = ? WHERE id = ?`, `"not a list"`, c.ID)
	require.NoError(t, err)
	list, err = s.ListContacts(ctx, db.ContactFilter{Scope: access.ViewerScope(org.ID, viewer.ID)})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestContactEmailUniquePerOrganization(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	other := seedOrg(t, s, "globex")
	owner := seedUser(t, s, org.ID, "owner@acme.test", access.RoleUser)

	email := "lead@example.test"
	upper := "LEAD@example.test"
	newContact := func(orgID uuid.UUID, e *string) *db.Contact {
		return &db.Contact{ID: uuid.New(), OrganizationID: orgID, FirstName: "Lead", Email: e,
			Status: db.ContactStatusLead, OwnerID: owner.ID, Visibility: access.VisibilityOrg}
	}

	require.NoError(t, s.CreateContact(ctx, newContact(org.ID, &email)))
	err := s.CreateContact(ctx, newContact(org.ID, &upper))
	assert.True(t, errors.Is(err, db.ErrConflict))
	assert.NoError(t, s.CreateContact(ctx, newContact(other.ID, &email)))
}

func TestTaskVisibleToAssignee(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	owner := seedUser(t, s, org.ID, "owner@acme.test", access.RoleManager)
	assignee := seedUser(t, s, org.ID, "assignee@acme.test", access.RoleUser)
	due := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)

	task := &db.Task{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Title:          "Call back",
		Status:         db.TaskStatusTodo,
		Priority:       db.TaskPriorityHigh,
		DueDate:        &due,
		AssignedToID:   &assignee.ID,
		OwnerID:        owner.ID,
		CreatedByID:    &owner.ID,
		Visibility:     access.VisibilityPrivate,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	list, err := s.ListTasks(ctx, db.TaskFilter{Scope: access.ViewerScope(org.ID, assignee.ID)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].DueDate.Equal(due))
	assert.Equal(t, owner.ID, *list[0].CreatedByID)

	stranger := seedUser(t, s, org.ID, "stranger@acme.test", access.RoleUser)
	list, err = s.ListTasks(ctx, db.TaskFilter{Scope: access.ViewerScope(org.ID, stranger.ID)})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDealUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	owner := seedUser(t, s, org.ID, "owner@acme.test", access.RoleUser)

	deal := &db.Deal{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Title:          "Renewal",
		Value:          1250.5,
		Currency:       "USD",
		Stage:          db.DealStageNegotiation,
		OwnerID:        owner.ID,
		Visibility:     access.VisibilityOrg,
	}
	require.NoError(t, s.CreateDeal(ctx, deal))

	closed := time.Now().UTC()
	deal.Stage = db.DealStageWon
	deal.ActualClose = &closed
	require.NoError(t, s.UpdateDeal(ctx, deal))

	got, err := s.GetDeal(ctx, org.ID, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DealStageWon, got.Stage)
	assert.InDelta(t, 1250.5, got.Value, 0.001)
	require.NotNil(t, got.ActualClose)

	require.NoError(t, s.DeleteDeal(ctx, org.ID, deal.ID))
	assert.True(t, errors.Is(s.DeleteDeal(ctx, org.ID, deal.ID), db.ErrNotFound))
}

func TestNotificationInboxIsPerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	alice := seedUser(t, s, org.ID, "alice@acme.test", access.RoleUser)
	bob := seedUser(t, s, org.ID, "bob@acme.test", access.RoleUser)

	add := func(userID uuid.UUID) *db.Notification {
		n := &db.Notification{
			ID:             uuid.New(),
			Type:           "system",
			Title:          "hello",
			Metadata:       []byte(`{"k":"v"}`),
			UserID:         userID,
			OrganizationID: org.ID,
		}
		require.NoError(t, s.CreateNotification(ctx, n))
		return n
	}
	a1, a2 := add(alice.ID), add(alice.ID)
	b1 := add(bob.ID)

	n, err := s.MarkNotificationsRead(ctx, alice.ID, org.ID, []uuid.UUID{a1.ID, b1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err := s.CountUnreadNotifications(ctx, alice.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	n, err = s.MarkAllNotificationsRead(ctx, alice.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := s.ListNotifications(ctx, db.NotificationFilter{UserID: alice.ID, OrganizationID: org.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, item := range list {
		assert.True(t, item.IsRead)
		assert.NotNil(t, item.ReadAt)
		assert.JSONEq(t, `{"k":"v"}`, string(item.Metadata))
	}

	bobUnread, err := s.CountUnreadNotifications(ctx, bob.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bobUnread)

	n, err = s.DeleteNotifications(ctx, bob.ID, org.ID, []uuid.UUID{a2.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteAllNotifications(ctx, alice.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAuditLogFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	org := seedOrg(t, s, "acme")
	other := seedOrg(t, s, "globex")

	name := func(v string) *string { return &v }
	entityID := uuid.New()
	entries := []*db.AuditLogEntry{
		{Action: db.AuditCreated, Entity: db.EntityContact, EntityID: &entityID, EntityName: name("Ada Lovelace"), OrganizationID: &org.ID},
		{Action: db.AuditStageChanged, Entity: db.EntityDeal, EntityName: name("Renewal"), Details: []byte(`{"from":"negotiation","to":"won"}`), OrganizationID: &org.ID},
		{Action: db.AuditCreated, Entity: db.EntityContact, EntityName: name("Other tenant"), OrganizationID: &other.ID},
	}
	for _, e := range entries {
		e.ID = uuid.New()
		require.NoError(t, s.CreateAuditLog(ctx, e))
	}

	tests := []struct {
		name   string
		filter db.AuditFilter
		want   int
	}{
		{"tenant only", db.AuditFilter{OrganizationID: org.ID}, 2},
		{"by entity", db.AuditFilter{OrganizationID: org.ID, Entity: db.EntityDeal}, 1},
		{"by entity id", db.AuditFilter{OrganizationID: org.ID, EntityID: &entityID}, 1},
		{"by action", db.AuditFilter{OrganizationID: org.ID, Action: db.AuditCreated}, 1},
		{"search details", db.AuditFilter{OrganizationID: org.ID, Search: "negotiation"}, 1},
		{"search name", db.AuditFilter{OrganizationID: org.ID, Search: "ada"}, 1},
		{"future start", db.AuditFilter{OrganizationID: org.ID, StartDate: ptrTime(time.Now().Add(time.Hour))}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := s.ListAuditLogs(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
			assert.Len(t, list, tt.want)
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
