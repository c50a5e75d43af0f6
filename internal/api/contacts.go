package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/notify"
)

// contactInput is the body of POST and PUT /contacts. Absent fields are
// left untouched on update.
type contactInput struct {
	FirstName  *string      `json:"firstName"`
	LastName   *string      `json:"lastName"`
	Email      *string      `json:"email"`
	Phone      *string      `json:"phone"`
	Company    *string      `json:"company"`
	Title      *string      `json:"title"`
	Status     *string      `json:"status"`
	Notes      *string      `json:"notes"`
	OwnerID    *uuid.UUID   `json:"ownerId"`
	Visibility *string      `json:"visibility"`
	VisibleTo  *[]uuid.UUID `json:"visibleTo"`
}

func validContactStatus(s string) bool {
	switch s {
	case db.ContactStatusLead, db.ContactStatusProspect, db.ContactStatusCustomer, db.ContactStatusInactive:
		return true
	}
	return false
}

// apply copies the present fields onto c and returns a validation message.
func (in contactInput) apply(c *db.Contact) string {
	if in.FirstName != nil {
		c.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		c.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email != "" && !strings.Contains(email, "@") {
			return "email must be a valid address"
		}
		c.Email = emptyToNil(&email)
	}
	if in.Phone != nil {
		c.Phone = emptyToNil(in.Phone)
	}
	if in.Company != nil {
		c.Company = emptyToNil(in.Company)
	}
	if in.Title != nil {
		c.Title = emptyToNil(in.Title)
	}
	if in.Notes != nil {
		c.Notes = emptyToNil(in.Notes)
	}
	if in.Status != nil {
		if !validContactStatus(*in.Status) {
			return "status must be one of lead, prospect, customer, inactive"
		}
		c.Status = *in.Status
	}
	if in.OwnerID != nil {
		c.OwnerID = *in.OwnerID
	}
	if in.Visibility != nil {
		if !access.ValidVisibility(*in.Visibility) {
			return "visibility must be org or private"
		}
		c.Visibility = *in.Visibility
	}
	if in.VisibleTo != nil {
		c.VisibleTo = dedupe(*in.VisibleTo)
	}
	if c.FirstName == "" {
		return "firstName is required"
	}
	return ""
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ListContacts handles GET /v1/contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	scope, ok := h.listScope(w, r, actor)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !validContactStatus(status) {
		h.badRequest(w, "Invalid status", "status must be one of lead, prospect, customer, inactive")
		return
	}

	page := pageFrom(r)
	contacts, err := h.store.ListContacts(r.Context(), db.ContactFilter{
		Scope:  scope,
		Status: status,
		Search: r.URL.Query().Get("search"),
		Page:   page,
	})
	if err != nil {
		h.storeError(w, err, "Contacts")
		return
	}

	writeJSON(w, http.StatusOK, list(contacts, len(contacts), page))
}

// GetContact handles GET /v1/contacts/{id}.
func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadContact(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CreateContact handles POST /v1/contacts.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in contactInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	c := &db.Contact{
		ID:             uuid.New(),
		OrganizationID: actor.OrganizationID,
		Status:         db.ContactStatusLead,
		OwnerID:        actor.ID,
		CreatedByID:    &actor.ID,
		Visibility:     h.defaultVisibility(ctx, actor.OrganizationID),
		VisibleTo:      []uuid.UUID{},
	}
	if msg := in.apply(c); msg != "" {
		h.badRequest(w, "Invalid contact", msg)
		return
	}
	if !h.checkAssignee(w, r, actor, c.OwnerID) {
		return
	}

	if err := h.store.CreateContact(ctx, c); err != nil {
		h.storeError(w, err, "Contact")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditCreated,
		Entity:     db.EntityContact,
		EntityID:   &c.ID,
		EntityName: c.FullName(),
		Details:    map[string]any{"status": c.Status, "ownerId": c.OwnerID, "visibility": c.Visibility},
	})

	link := "/contacts/" + c.ID.String()
	h.dispatch(ctx, notify.ToOrg(notify.Message{
		OrganizationID: actor.OrganizationID,
		Type:           notify.TypeNewContact,
		Title:          "New contact added",
		Body:           fmt.Sprintf("%s added %s", actor.Name, c.FullName()),
		Link:           link,
		Metadata:       meta(map[string]any{"contactId": c.ID}),
	}, &actor.ID))

	if c.OwnerID != actor.ID {
		h.notifyContactOwner(r, actor, c)
	}

	writeJSON(w, http.StatusCreated, c)
}

// UpdateContact handles PUT /v1/contacts/{id}.
func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	c, ok := h.loadContact(w, r)
	if !ok {
		return
	}

	var in contactInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	before := *c
	if msg := in.apply(c); msg != "" {
		h.badRequest(w, "Invalid contact", msg)
		return
	}
	ownerChanged := c.OwnerID != before.OwnerID
	if ownerChanged && !h.checkAssignee(w, r, actor, c.OwnerID) {
		return
	}

	if err := h.store.UpdateContact(ctx, c); err != nil {
		h.storeError(w, err, "Contact")
		return
	}

	changes := make(changeSet)
	changes.note("firstName", before.FirstName, c.FirstName)
	changes.note("lastName", before.LastName, c.LastName)
	changes.note("email", before.Email, c.Email)
	changes.note("phone", before.Phone, c.Phone)
	changes.note("company", before.Company, c.Company)
	changes.note("title", before.Title, c.Title)
	changes.note("status", before.Status, c.Status)
	changes.note("notes", before.Notes, c.Notes)
	changes.note("visibility", before.Visibility, c.Visibility)
	changes.note("visibleTo", before.VisibleTo, c.VisibleTo)

	if len(changes) > 0 {
		h.record(r, audit.Event{
			Action:     db.AuditUpdated,
			Entity:     db.EntityContact,
			EntityID:   &c.ID,
			EntityName: c.FullName(),
			Details:    map[string]any{"changes": changes},
		})
	}

	if ownerChanged {
		h.record(r, audit.Event{
			Action:     db.AuditAssigned,
			Entity:     db.EntityContact,
			EntityID:   &c.ID,
			EntityName: c.FullName(),
			Details:    change{From: before.OwnerID, To: c.OwnerID},
		})
		if c.OwnerID != actor.ID {
			h.notifyContactOwner(r, actor, c)
		}
	}

	writeJSON(w, http.StatusOK, c)
}

// DeleteContact handles DELETE /v1/contacts/{id}.
func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	c, ok := h.loadContact(w, r)
	if !ok {
		return
	}
	if !access.CanDelete(actor.ID, actor.Role, c.OwnerID, c.CreatedByID) {
		h.forbidden(w, "only the owner, the creator or a manager can delete this contact")
		return
	}

	if err := h.store.DeleteContact(ctx, actor.OrganizationID, c.ID); err != nil {
		h.storeError(w, err, "Contact")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditDeleted,
		Entity:     db.EntityContact,
		EntityID:   &c.ID,
		EntityName: c.FullName(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// loadContact fetches the {id} contact, answering 404 when it is missing
// or not visible to the caller.
func (h *Handler) loadContact(w http.ResponseWriter, r *http.Request) (*db.Contact, bool) {
	actor, _ := actorFrom(r.Context())

	id, err := pathID(r)
	if err != nil {
		h.badRequest(w, "Invalid id", "id must be a valid UUID")
		return nil, false
	}

	c, err := h.store.GetContact(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.storeError(w, err, "Contact")
		return nil, false
	}
	if !readScope(actor).CanView(c.Grant()) {
		h.notFound(w, "Contact")
		return nil, false
	}
	return c, true
}

func (h *Handler) notifyContactOwner(r *http.Request, actor *db.User, c *db.Contact) {
	h.dispatch(r.Context(), notify.ToUser(c.OwnerID, notify.Message{
		OrganizationID: actor.OrganizationID,
		Type:           notify.TypeContactAssigned,
		Title:          "Contact assigned to you",
		Body:           fmt.Sprintf("%s assigned %s to you", actor.Name, c.FullName()),
		Link:           "/contacts/" + c.ID.String(),
		Metadata:       meta(map[string]any{"contactId": c.ID}),
	}))
}
