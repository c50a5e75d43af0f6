package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
)

type activityInput struct {
	Type        string     `json:"type"`
	Subject     string     `json:"subject"`
	Description *string    `json:"description"`
	ContactID   *uuid.UUID `json:"contactId"`
	DealID      *uuid.UUID `json:"dealId"`
}

// manualActivity reports whether users may log this type by hand. The
// others are written by the system.
func manualActivity(t string) bool {
	switch t {
	case db.ActivityNote, db.ActivityCall, db.ActivityEmail, db.ActivityMeeting:
		return true
	}
	return false
}

// ListActivities handles GET /v1/activities?contactId=&dealId=.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	contactID, err := queryUUID(r, "contactId")
	if err != nil {
		h.badRequest(w, "Invalid contactId", err.Error())
		return
	}
	dealID, err := queryUUID(r, "dealId")
	if err != nil {
		h.badRequest(w, "Invalid dealId", err.Error())
		return
	}
	if contactID == nil && dealID == nil {
		h.badRequest(w, "Missing filter", "contactId or dealId is required")
		return
	}
	if contactID != nil && !h.checkContactRef(w, r, actor, *contactID) {
		return
	}
	if dealID != nil && !h.checkDealRef(w, r, actor, *dealID) {
		return
	}

	page := pageFrom(r)
	activities, err := h.store.ListActivities(r.Context(), db.ActivityFilter{
		OrganizationID: actor.OrganizationID,
		ContactID:      contactID,
		DealID:         dealID,
		Page:           page,
	})
	if err != nil {
		h.storeError(w, err, "Activities")
		return
	}

	writeJSON(w, http.StatusOK, list(activities, len(activities), page))
}

// CreateActivity handles POST /v1/activities.
func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in activityInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}
	if !manualActivity(in.Type) {
		h.badRequest(w, "Invalid activity", "type must be one of note, call, email, meeting")
		return
	}
	in.Subject = strings.TrimSpace(in.Subject)
	if in.Subject == "" {
		h.badRequest(w, "Invalid activity", "subject is required")
		return
	}
	if in.ContactID == nil && in.DealID == nil {
		h.badRequest(w, "Invalid activity", "contactId or dealId is required")
		return
	}
	if in.ContactID != nil && !h.checkContactRef(w, r, actor, *in.ContactID) {
		return
	}
	if in.DealID != nil && !h.checkDealRef(w, r, actor, *in.DealID) {
		return
	}

	a := &db.Activity{
		ID:             uuid.New(),
		OrganizationID: actor.OrganizationID,
		Type:           in.Type,
		Subject:        in.Subject,
		Description:    emptyToNil(in.Description),
		ContactID:      in.ContactID,
		DealID:         in.DealID,
		UserID:         actor.ID,
	}
	if err := h.store.CreateActivity(ctx, a); err != nil {
		h.storeError(w, err, "Activity")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditCreated,
		Entity:     db.EntityActivity,
		EntityID:   &a.ID,
		EntityName: a.Subject,
		Details:    map[string]any{"type": a.Type, "contactId": a.ContactID, "dealId": a.DealID},
	})

	writeJSON(w, http.StatusCreated, a)
}
