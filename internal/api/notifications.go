package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/notify"
)

// NotificationListResponse is the inbox page plus the unread badge count.
type NotificationListResponse struct {
	ListResponse
	UnreadCount int `json:"unreadCount"`
}

// sendRequest is the body of POST /v1/notifications. With no userId,
// userIds or target the notification goes to the caller.
type sendRequest struct {
	UserID   *uuid.UUID      `json:"userId"`
	UserIDs  []uuid.UUID     `json:"userIds"`
	Target   string          `json:"target"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Link     string          `json:"link"`
	Metadata json.RawMessage `json:"metadata"`
}

// bulkRequest is the body of PATCH and DELETE /v1/notifications.
type bulkRequest struct {
	IDs         []uuid.UUID `json:"ids"`
	MarkAllRead bool        `json:"markAllRead"`
	DeleteAll   bool        `json:"deleteAll"`
}

// ListNotifications handles GET /v1/notifications?unread=&limit=&offset=.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	page := pageFrom(r)
	notifications, err := h.store.ListNotifications(ctx, db.NotificationFilter{
		UserID:         actor.ID,
		OrganizationID: actor.OrganizationID,
		UnreadOnly:     r.URL.Query().Get("unread") == "true",
		Page:           page,
	})
	if err != nil {
		h.storeError(w, err, "Notifications")
		return
	}

	unread, err := h.store.CountUnreadNotifications(ctx, actor.ID, actor.OrganizationID)
	if err != nil {
		h.storeError(w, err, "Notifications")
		return
	}

	writeJSON(w, http.StatusOK, NotificationListResponse{
		ListResponse: list(notifications, len(notifications), page),
		UnreadCount:  unread,
	})
}

// SendNotification handles POST /v1/notifications. Anyone may notify
// themselves; targeting other users, the organization or the admins needs
// the manager role. Delivery happens in the background.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in sendRequest
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}
	if in.Type == "" {
		in.Type = notify.TypeSystem
	}

	msg := notify.Message{
		OrganizationID: actor.OrganizationID,
		Type:           in.Type,
		Title:          strings.TrimSpace(in.Title),
		Body:           in.Message,
		Link:           in.Link,
		Metadata:       in.Metadata,
	}
	if err := msg.Validate(); err != nil {
		h.badRequest(w, "Invalid notification", err.Error())
		return
	}

	var req notify.Request
	switch {
	case in.Target == string(notify.TargetOrg):
		req = notify.ToOrg(msg, &actor.ID)
	case in.Target == string(notify.TargetAdmins):
		req = notify.ToAdmins(msg)
	case in.Target != "":
		h.badRequest(w, "Invalid target", "target must be org or admins")
		return
	case len(in.UserIDs) > 0:
		req = notify.ToUsers(in.UserIDs, msg)
	case in.UserID != nil:
		req = notify.ToUser(*in.UserID, msg)
	default:
		req = notify.ToUser(actor.ID, msg)
	}

	if !selfOnly(req, actor.ID) && !access.HasMinRole(actor.Role, access.RoleManager) {
		h.forbidden(w, "notifying other users requires the manager role")
		return
	}

	h.dispatch(ctx, req)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"target": req.Target,
	})
}

func selfOnly(req notify.Request, self uuid.UUID) bool {
	if req.Target != notify.TargetUser && req.Target != notify.TargetUsers {
		return false
	}
	for _, id := range req.UserIDs {
		if id != self {
			return false
		}
	}
	return true
}

// MarkNotifications handles PATCH /v1/notifications with {ids} or
// {markAllRead: true}. Only the caller's notifications are touched.
func (h *Handler) MarkNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in bulkRequest
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	var (
		n   int64
		err error
	)
	switch {
	case in.MarkAllRead:
		n, err = h.store.MarkAllNotificationsRead(ctx, actor.ID, actor.OrganizationID)
	case len(in.IDs) > 0:
		n, err = h.store.MarkNotificationsRead(ctx, actor.ID, actor.OrganizationID, in.IDs)
	default:
		h.badRequest(w, "Nothing to update", "provide ids or markAllRead")
		return
	}
	if err != nil {
		h.storeError(w, err, "Notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// DeleteNotifications handles DELETE /v1/notifications with {ids} or
// {deleteAll: true}.
func (h *Handler) DeleteNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in bulkRequest
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	var (
		n   int64
		err error
	)
	switch {
	case in.DeleteAll:
		n, err = h.store.DeleteAllNotifications(ctx, actor.ID, actor.OrganizationID)
	case len(in.IDs) > 0:
		n, err = h.store.DeleteNotifications(ctx, actor.ID, actor.OrganizationID, in.IDs)
	default:
		h.badRequest(w, "Nothing to delete", "provide ids or deleteAll")
		return
	}
	if err != nil {
		h.storeError(w, err, "Notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
