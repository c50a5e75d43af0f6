package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

// listScope builds the visibility scope for a list request. showAll=true is
// honoured for managers and admins only; it writes 403 and returns false
// otherwise.
func (h *Handler) listScope(w http.ResponseWriter, r *http.Request, actor *db.User) (access.Scope, bool) {
	if r.URL.Query().Get("showAll") != "true" {
		return access.ViewerScope(actor.OrganizationID, actor.ID), true
	}
	if !access.CanViewAll(actor.Role) {
		h.forbidden(w, "showAll requires the manager role")
		return access.Scope{}, false
	}
	return access.TenantScope(actor.OrganizationID), true
}

// readScope is the scope for single-record reads and writes. Managers see
// the whole tenant.
func readScope(actor *db.User) access.Scope {
	if access.CanViewAll(actor.Role) {
		return access.TenantScope(actor.OrganizationID)
	}
	return access.ViewerScope(actor.OrganizationID, actor.ID)
}

// checkAssignee verifies target may own or be assigned a record created by
// actor. It writes the error response and returns false on failure.
func (h *Handler) checkAssignee(w http.ResponseWriter, r *http.Request, actor *db.User, target uuid.UUID) bool {
	if target == actor.ID {
		return true
	}
	if !access.CanAssignOthers(actor.Role) {
		h.forbidden(w, "assigning to other users requires the manager role")
		return false
	}
	if _, ok := h.member(w, r.Context(), actor.OrganizationID, target); !ok {
		return false
	}
	return true
}

// member loads an active user of orgID. Users of other tenants are treated
// as unknown.
func (h *Handler) member(w http.ResponseWriter, ctx context.Context, orgID, userID uuid.UUID) (*db.User, bool) {
	u, err := h.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.storeError(w, err, "User")
		return nil, false
	}
	if err != nil || u.OrganizationID != orgID || !u.IsActive {
		h.badRequest(w, "Unknown user", "user "+userID.String()+" is not an active member of this organization")
		return nil, false
	}
	return u, true
}

// settings loads the organization settings, or zero settings on failure.
func (h *Handler) settings(ctx context.Context, orgID uuid.UUID) db.OrganizationSettings {
	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		h.logger.Warn("failed to load organization settings",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		return db.OrganizationSettings{}
	}
	return org.Settings
}

func (h *Handler) defaultVisibility(ctx context.Context, orgID uuid.UUID) string {
	if v := h.settings(ctx, orgID).DefaultVisibility; access.ValidVisibility(v) {
		return v
	}
	return access.VisibilityOrg
}

// meta encodes notification metadata.
func meta(kv map[string]any) json.RawMessage {
	raw, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return raw
}

type change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// changeSet collects field changes for audit details.
type changeSet map[string]change

func (cs changeSet) note(field string, from, to any) {
	if !reflect.DeepEqual(from, to) {
		cs[field] = change{From: from, To: to}
	}
}

// without returns a copy of cs minus the given fields.
func (cs changeSet) without(fields ...string) changeSet {
	out := make(changeSet, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// nullableUUID distinguishes an absent field from an explicit null.
type nullableUUID struct {
	Set   bool
	Value *uuid.UUID
}

func (n *nullableUUID) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var id uuid.UUID
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	n.Value = &id
	return nil
}

// nullableTime distinguishes an absent timestamp from an explicit null.
type nullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *nullableTime) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	t = t.UTC()
	n.Value = &t
	return nil
}

// emptyToNil maps "" to nil so an empty string clears an optional field.
func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
