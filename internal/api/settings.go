package api

import (
	"net/http"
	"net/url"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
)

// GetSettings handles GET /v1/settings and returns the caller's
// organization including its settings document.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	org, err := h.store.GetOrganization(r.Context(), actor.OrganizationID)
	if err != nil {
		h.storeError(w, err, "Organization")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// UpdateSettings handles PUT /v1/settings. Admins only; the body replaces
// the whole settings document.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	if !access.CanManageSettings(actor.Role) {
		h.forbidden(w, "changing settings requires the admin role")
		return
	}

	var in db.OrganizationSettings
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}
	if in.DefaultVisibility != "" && !access.ValidVisibility(in.DefaultVisibility) {
		h.badRequest(w, "Invalid settings", "defaultVisibility must be org or private")
		return
	}
	if in.WebhookURL != "" && !validWebhookURL(in.WebhookURL) {
		h.badRequest(w, "Invalid settings", "webhookUrl must be an absolute http or https URL")
		return
	}

	org, err := h.store.GetOrganization(ctx, actor.OrganizationID)
	if err != nil {
		h.storeError(w, err, "Organization")
		return
	}
	before := org.Settings

	if err := h.store.UpdateOrganizationSettings(ctx, org.ID, in); err != nil {
		h.storeError(w, err, "Organization")
		return
	}
	org.Settings = in

	h.record(r, audit.Event{
		Action:     db.AuditSettingsChanged,
		Entity:     db.EntitySettings,
		EntityID:   &org.ID,
		EntityName: org.Name,
		Details:    change{From: before, To: in},
	})

	writeJSON(w, http.StatusOK, org)
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
