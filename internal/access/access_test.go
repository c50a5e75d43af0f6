package access

import (
	"testing"

	"github.com/google/uuid"
)

func TestHasMinRole(t *testing.T) {
	tests := []struct {
		actual   string
		required string
		want     bool
	}{
		{RoleUser, RoleUser, true},
		{RoleUser, RoleManager, false},
		{RoleManager, RoleUser, true},
		{RoleManager, RoleAdmin, false},
		{RoleAdmin, RoleManager, true},
		{RoleAdmin, RoleAdmin, true},
		{"guest", RoleUser, false},
		{RoleAdmin, "superuser", false},
	}

	for _, tt := range tests {
		t.Run(tt.actual+">="+tt.required, func(t *testing.T) {
			if got := HasMinRole(tt.actual, tt.required); got != tt.want {
				t.Errorf("HasMinRole(%s, %s) = %v, want %v", tt.actual, tt.required, got, tt.want)
			}
		})
	}
}

func TestCanDelete(t *testing.T) {
	actor := uuid.New()
	other := uuid.New()

	tests := []struct {
		name      string
		role      string
		owner     uuid.UUID
		createdBy *uuid.UUID
		want      bool
	}{
		{"owner", RoleUser, actor, nil, true},
		{"creator", RoleUser, other, &actor, true},
		{"stranger", RoleUser, other, &other, false},
		{"no creator recorded", RoleUser, other, nil, false},
		{"manager", RoleManager, other, nil, true},
		{"admin", RoleAdmin, other, &other, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanDelete(actor, tt.role, tt.owner, tt.createdBy); got != tt.want {
				t.Errorf("CanDelete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeCanView(t *testing.T) {
	org := uuid.New()
	viewer := uuid.New()
	owner := uuid.New()

	tests := []struct {
		name  string
		scope Scope
		grant Grant
		want  bool
	}{
		{
			name:  "org visibility is visible to any in-tenant viewer",
			scope: ViewerScope(org, viewer),
			grant: Grant{OrganizationID: org, Visibility: VisibilityOrg, OwnerID: owner},
			want:  true,
		},
		{
			name:  "private record of someone else",
			scope: ViewerScope(org, viewer),
			grant: Grant{OrganizationID: org, Visibility: VisibilityPrivate, OwnerID: owner},
			want:  false,
		},
		{
			name:  "owner sees private record",
			scope: ViewerScope(org, owner),
			grant: Grant{OrganizationID: org, Visibility: VisibilityPrivate, OwnerID: owner},
			want:  true,
		},
		{
			name:  "assignee sees private task",
			scope: ViewerScope(org, viewer),
			grant: Grant{OrganizationID: org, Visibility: VisibilityPrivate, OwnerID: owner, AssignedToID: &viewer},
			want:  true,
		},
		{
			name:  "explicit grant",
			scope: ViewerScope(org, viewer),
			grant: Grant{OrganizationID: org, Visibility: VisibilityPrivate, OwnerID: owner, VisibleTo: []uuid.UUID{uuid.New(), viewer}},
			want:  true,
		},
		{
			name:  "other tenant with org visibility",
			scope: ViewerScope(org, viewer),
			grant: Grant{OrganizationID: uuid.New(), Visibility: VisibilityOrg, OwnerID: viewer},
			want:  false,
		},
		{
			name:  "show all still requires tenant match",
			scope: TenantScope(org),
			grant: Grant{OrganizationID: uuid.New(), Visibility: VisibilityOrg, OwnerID: owner},
			want:  false,
		},
		{
			name:  "show all inside tenant",
			scope: TenantScope(org),
			grant: Grant{OrganizationID: org, Visibility: VisibilityPrivate, OwnerID: owner},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.CanView(tt.grant); got != tt.want {
				t.Errorf("CanView() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVisibleTo(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	tests := []struct {
		name string
		raw  string
		want []uuid.UUID
	}{
		{"array", `["` + a.String() + `","` + b.String() + `"]`, []uuid.UUID{a, b}},
		{"string encoded array", `"[\"` + a.String() + `\"]"`, []uuid.UUID{a}},
		{"malformed json", `["` + a.String(), nil},
		{"malformed inner string", `"[not json"`, nil},
		{"object instead of array", `{"id":"x"}`, nil},
		{"invalid ids skipped", `["nope","` + b.String() + `"]`, []uuid.UUID{b}},
		{"duplicates collapsed", `["` + a.String() + `","` + a.String() + `"]`, []uuid.UUID{a}},
		{"empty", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVisibleTo([]byte(tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("ParseVisibleTo(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: got %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeVisibleToRoundTrip(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	got := ParseVisibleTo([]byte(EncodeVisibleTo(ids)))
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Errorf("round trip mismatch: %v vs %v", got, ids)
	}
	if EncodeVisibleTo(nil) != "[]" {
		t.Errorf("expected [] for empty list")
	}
}
