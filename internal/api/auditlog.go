package api

import (
	"net/http"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

// AuditListResponse is a page of audit entries with the filtered total.
type AuditListResponse struct {
	ListResponse
	Total int `json:"total"`
}

// ListAuditLogs handles GET /v1/audit. Managers and admins only.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if !access.HasMinRole(actor.Role, access.RoleManager) {
		h.forbidden(w, "the audit log requires the manager role")
		return
	}

	q := r.URL.Query()
	f := db.AuditFilter{
		OrganizationID: actor.OrganizationID,
		Entity:         q.Get("entity"),
		Action:         q.Get("action"),
		Search:         q.Get("search"),
		Page:           pageFrom(r),
	}

	var err error
	if f.EntityID, err = queryUUID(r, "entityId"); err != nil {
		h.badRequest(w, "Invalid entityId", err.Error())
		return
	}
	if f.UserID, err = queryUUID(r, "userId"); err != nil {
		h.badRequest(w, "Invalid userId", err.Error())
		return
	}
	if f.StartDate, err = queryTime(r, "startDate"); err != nil {
		h.badRequest(w, "Invalid startDate", err.Error())
		return
	}
	if f.EndDate, err = queryTime(r, "endDate"); err != nil {
		h.badRequest(w, "Invalid endDate", err.Error())
		return
	}

	entries, total, err := h.store.ListAuditLogs(r.Context(), f)
	if err != nil {
		h.storeError(w, err, "Audit log")
		return
	}

	writeJSON(w, http.StatusOK, AuditListResponse{
		ListResponse: list(entries, len(entries), f.Page),
		Total:        total,
	})
}
