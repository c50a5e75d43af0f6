package api

import (
	"net/http"
	"strings"

	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/notify"
)

type profileUpdate struct {
	Name        *string `json:"name"`
	Phone       *string `json:"phone"`
	Preferences *struct {
		Notifications map[string]bool `json:"notifications"`
	} `json:"preferences"`
}

// GetProfile handles GET /v1/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, actor)
}

// UpdateProfile handles PATCH /v1/profile. Notification preferences are
// merged into the stored map; a type set to false stops every provider for
// that type.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in profileUpdate
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	u := *actor
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			h.badRequest(w, "Invalid profile", "name must not be empty")
			return
		}
		u.Name = name
	}
	if in.Phone != nil {
		u.Phone = emptyToNil(in.Phone)
	}
	if in.Preferences != nil {
		merged := make(map[string]bool, len(actor.Preferences.Notifications)+len(in.Preferences.Notifications))
		for k, v := range actor.Preferences.Notifications {
			merged[k] = v
		}
		for k, v := range in.Preferences.Notifications {
			if !notify.ValidType(k) {
				h.badRequest(w, "Invalid profile", "unknown notification type "+k)
				return
			}
			merged[k] = v
		}
		u.Preferences.Notifications = merged
	}

	if err := h.store.UpdateUser(ctx, &u); err != nil {
		h.storeError(w, err, "Profile")
		return
	}

	changes := make(changeSet)
	changes.note("name", actor.Name, u.Name)
	changes.note("phone", actor.Phone, u.Phone)
	changes.note("preferences", actor.Preferences, u.Preferences)
	if len(changes) > 0 {
		h.record(r, audit.Event{
			Action:     db.AuditUpdated,
			Entity:     db.EntityUser,
			EntityID:   &u.ID,
			EntityName: u.Name,
			Details:    map[string]any{"changes": changes, "self": true},
		})
	}

	writeJSON(w, http.StatusOK, &u)
}
