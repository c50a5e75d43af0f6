package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/notify"
)

// userUpdate is the body of PATCH /v1/users/{id}.
type userUpdate struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// ListUsers handles GET /v1/users. Every member may list the organization
// so they can pick assignees.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	users, err := h.store.ListUsers(r.Context(), actor.OrganizationID)
	if err != nil {
		h.storeError(w, err, "Users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users, "count": len(users)})
}

// UpdateUser handles PATCH /v1/users/{id}. Admins only.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	if !access.CanManageUsers(actor.Role) {
		h.forbidden(w, "managing users requires the admin role")
		return
	}

	target, ok := h.loadOrgUser(w, r, actor)
	if !ok {
		return
	}

	var in userUpdate
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	before := *target
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			h.badRequest(w, "Invalid user", "name must not be empty")
			return
		}
		target.Name = name
	}
	if in.Role != nil {
		if !access.ValidRole(*in.Role) {
			h.badRequest(w, "Invalid user", "role must be one of user, manager, admin")
			return
		}
		target.Role = *in.Role
	}
	if in.IsActive != nil {
		target.IsActive = *in.IsActive
	}

	losesAdmin := isActiveAdmin(&before) && !isActiveAdmin(target)
	if losesAdmin && !h.guardLastAdmin(w, r, actor.OrganizationID) {
		return
	}

	if err := h.store.UpdateUser(ctx, target); err != nil {
		h.storeError(w, err, "User")
		return
	}

	changes := make(changeSet)
	changes.note("name", before.Name, target.Name)
	changes.note("role", before.Role, target.Role)
	changes.note("isActive", before.IsActive, target.IsActive)

	if len(changes) > 0 {
		h.record(r, audit.Event{
			Action:     db.AuditUpdated,
			Entity:     db.EntityUser,
			EntityID:   &target.ID,
			EntityName: target.Name,
			Details:    map[string]any{"changes": changes},
		})
	}

	if target.Role != before.Role && target.ID != actor.ID {
		h.dispatch(ctx, notify.ToUser(target.ID, notify.Message{
			OrganizationID: actor.OrganizationID,
			Type:           notify.TypeUserRoleChanged,
			Title:          "Your role has changed",
			Body:           fmt.Sprintf("%s changed your role from %s to %s", actor.Name, before.Role, target.Role),
			Link:           "/profile",
			Metadata:       meta(map[string]any{"from": before.Role, "to": target.Role}),
		}))
	}

	writeJSON(w, http.StatusOK, target)
}

// DeleteUser handles DELETE /v1/users/{id}. Users are deactivated rather
// than removed so their audit trail and owned records keep resolving.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	if !access.CanManageUsers(actor.Role) {
		h.forbidden(w, "managing users requires the admin role")
		return
	}

	target, ok := h.loadOrgUser(w, r, actor)
	if !ok {
		return
	}
	if isActiveAdmin(target) && !h.guardLastAdmin(w, r, actor.OrganizationID) {
		return
	}

	target.IsActive = false
	if err := h.store.UpdateUser(ctx, target); err != nil {
		h.storeError(w, err, "User")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditDeleted,
		Entity:     db.EntityUser,
		EntityID:   &target.ID,
		EntityName: target.Name,
		Details:    map[string]any{"email": target.Email, "role": target.Role},
	})

	w.WriteHeader(http.StatusNoContent)
}

func isActiveAdmin(u *db.User) bool {
	return u.IsActive && u.Role == access.RoleAdmin
}

// guardLastAdmin refuses a change that would leave the organization without
// an active admin.
func (h *Handler) guardLastAdmin(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) bool {
	n, err := h.store.CountActiveAdmins(r.Context(), orgID)
	if err != nil {
		h.storeError(w, err, "Users")
		return false
	}
	if n <= 1 {
		h.badRequest(w, "Cannot remove admin", "cannot demote or deactivate the last administrator of the organization")
		return false
	}
	return true
}

// loadOrgUser resolves the {id} path parameter to a user of the caller's
// organization. Users of other tenants are reported as not found.
func (h *Handler) loadOrgUser(w http.ResponseWriter, r *http.Request, actor *db.User) (*db.User, bool) {
	id, err := pathID(r)
	if err != nil {
		h.badRequest(w, "Invalid user ID", "id must be a valid UUID")
		return nil, false
	}

	u, err := h.store.GetUser(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && u.OrganizationID != actor.OrganizationID) {
		h.notFound(w, "User")
		return nil, false
	}
	if err != nil {
		h.storeError(w, err, "User")
		return nil, false
	}
	return u, true
}
