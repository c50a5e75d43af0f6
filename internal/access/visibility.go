package access

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Visibility values stored on contacts, deals and tasks.
const (
	VisibilityOrg     = "org"
	VisibilityPrivate = "private"
)

// ValidVisibility reports whether v is a known visibility value.
func ValidVisibility(v string) bool {
	return v == VisibilityOrg || v == VisibilityPrivate
}

// Scope narrows a list query. OrganizationID is always enforced. A nil
// ViewerID means "show everything in the tenant" and must only be produced
// after the caller checked CanViewAll.
type Scope struct {
	OrganizationID uuid.UUID
	ViewerID       *uuid.UUID
}

// TenantScope returns a scope with no viewer restriction.
func TenantScope(orgID uuid.UUID) Scope {
	return Scope{OrganizationID: orgID}
}

// ViewerScope returns a scope restricted to what viewerID may see.
func ViewerScope(orgID, viewerID uuid.UUID) Scope {
	return Scope{OrganizationID: orgID, ViewerID: &viewerID}
}

// Restricted reports whether the visibility clause applies.
func (s Scope) Restricted() bool {
	return s.ViewerID != nil
}

// Grant is the visibility-relevant projection of a record.
type Grant struct {
	OrganizationID uuid.UUID
	Visibility     string
	OwnerID        uuid.UUID
	AssignedToID   *uuid.UUID // tasks only
	VisibleTo      []uuid.UUID
}

// CanView applies the scope to a single record. The tenant check runs first
// and is never bypassed.
func (s Scope) CanView(g Grant) bool {
	if g.OrganizationID != s.OrganizationID {
		return false
	}
	if s.ViewerID == nil {
		return true
	}
	viewer := *s.ViewerID
	if g.Visibility == VisibilityOrg || g.OwnerID == viewer {
		return true
	}
	if g.AssignedToID != nil && *g.AssignedToID == viewer {
		return true
	}
	for _, id := range g.VisibleTo {
		if id == viewer {
			return true
		}
	}
	return false
}

// ParseVisibleTo decodes an explicit grant list. It accepts a JSON array of
// user ids or a JSON string that itself holds such an array (the encoding
// older clients send). Malformed input yields no grants; entries that are
// not valid UUIDs are skipped.
func ParseVisibleTo(raw []byte) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}

	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// EncodeVisibleTo is the inverse of ParseVisibleTo for text columns.
func EncodeVisibleTo(ids []uuid.UUID) string {
	if len(ids) == 0 {
		return "[]"
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	b, _ := json.Marshal(strs)
	return string(b)
}
