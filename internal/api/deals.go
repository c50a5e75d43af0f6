package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/notify"
)

// stageProbability is the default win probability per stage.
var stageProbability = map[string]int{
	db.DealStageLead:        10,
	db.DealStageQualified:   25,
	db.DealStageProposal:    50,
	db.DealStageNegotiation: 75,
	db.DealStageWon:         100,
	db.DealStageLost:        0,
}

type dealInput struct {
	Title         *string      `json:"title"`
	Value         *float64     `json:"value"`
	Currency      *string      `json:"currency"`
	Stage         *string      `json:"stage"`
	Probability   *int         `json:"probability"`
	ExpectedClose nullableTime `json:"expectedClose"`
	ContactID     nullableUUID `json:"contactId"`
	OwnerID       *uuid.UUID   `json:"ownerId"`
	Visibility    *string      `json:"visibility"`
	VisibleTo     *[]uuid.UUID `json:"visibleTo"`
}

func (in dealInput) apply(d *db.Deal) string {
	if in.Title != nil {
		d.Title = strings.TrimSpace(*in.Title)
	}
	if in.Value != nil {
		if *in.Value < 0 {
			return "value must not be negative"
		}
		d.Value = *in.Value
	}
	if in.Currency != nil {
		cur := strings.ToUpper(strings.TrimSpace(*in.Currency))
		if len(cur) != 3 {
			return "currency must be a three-letter code"
		}
		d.Currency = cur
	}
	if in.Stage != nil {
		if !db.ValidDealStage(*in.Stage) {
			return "stage must be one of lead, qualified, proposal, negotiation, won, lost"
		}
		if *in.Stage != d.Stage && in.Probability == nil {
			d.Probability = stageProbability[*in.Stage]
		}
		d.Stage = *in.Stage
	}
	if in.Probability != nil {
		if *in.Probability < 0 || *in.Probability > 100 {
			return "probability must be between 0 and 100"
		}
		d.Probability = *in.Probability
	}
	if in.ExpectedClose.Set {
		d.ExpectedClose = in.ExpectedClose.Value
	}
	if in.ContactID.Set {
		d.ContactID = in.ContactID.Value
	}
	if in.OwnerID != nil {
		d.OwnerID = *in.OwnerID
	}
	if in.Visibility != nil {
		if !access.ValidVisibility(*in.Visibility) {
			return "visibility must be org or private"
		}
		d.Visibility = *in.Visibility
	}
	if in.VisibleTo != nil {
		d.VisibleTo = dedupe(*in.VisibleTo)
	}
	if d.Title == "" {
		return "title is required"
	}
	return ""
}

// ListDeals handles GET /v1/deals.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	scope, ok := h.listScope(w, r, actor)
	if !ok {
		return
	}

	stage := r.URL.Query().Get("stage")
	if stage != "" && !db.ValidDealStage(stage) {
		h.badRequest(w, "Invalid stage", "unknown deal stage "+stage)
		return
	}
	contactID, err := queryUUID(r, "contactId")
	if err != nil {
		h.badRequest(w, "Invalid contactId", err.Error())
		return
	}

	page := pageFrom(r)
	deals, err := h.store.ListDeals(r.Context(), db.DealFilter{
		Scope:     scope,
		Stage:     stage,
		ContactID: contactID,
		Search:    r.URL.Query().Get("search"),
		Page:      page,
	})
	if err != nil {
		h.storeError(w, err, "Deals")
		return
	}

	writeJSON(w, http.StatusOK, list(deals, len(deals), page))
}

// GetDeal handles GET /v1/deals/{id}.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateDeal handles POST /v1/deals.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in dealInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	d := &db.Deal{
		ID:             uuid.New(),
		OrganizationID: actor.OrganizationID,
		Currency:       "USD",
		Stage:          db.DealStageLead,
		Probability:    stageProbability[db.DealStageLead],
		OwnerID:        actor.ID,
		CreatedByID:    &actor.ID,
		Visibility:     h.defaultVisibility(ctx, actor.OrganizationID),
		VisibleTo:      []uuid.UUID{},
	}
	if msg := in.apply(d); msg != "" {
		h.badRequest(w, "Invalid deal", msg)
		return
	}
	if !h.checkAssignee(w, r, actor, d.OwnerID) {
		return
	}
	if d.ContactID != nil && !h.checkContactRef(w, r, actor, *d.ContactID) {
		return
	}
	if d.Closed() {
		now := time.Now().UTC()
		d.ActualClose = &now
	}

	if err := h.store.CreateDeal(ctx, d); err != nil {
		h.storeError(w, err, "Deal")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditCreated,
		Entity:     db.EntityDeal,
		EntityID:   &d.ID,
		EntityName: d.Title,
		Details:    map[string]any{"stage": d.Stage, "value": d.Value, "currency": d.Currency},
	})

	if d.OwnerID != actor.ID {
		h.notifyDealOwner(r, actor, d)
	}

	writeJSON(w, http.StatusCreated, d)
}

// UpdateDeal handles PUT /v1/deals/{id}. A stage change records an
// activity, a stage_changed audit entry and a notification; moving to won
// or lost stamps actualClose when it is not already set.
func (h *Handler) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	d, ok := h.loadDeal(w, r)
	if !ok {
		return
	}

	var in dealInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	before := *d
	if msg := in.apply(d); msg != "" {
		h.badRequest(w, "Invalid deal", msg)
		return
	}
	ownerChanged := d.OwnerID != before.OwnerID
	if ownerChanged && !h.checkAssignee(w, r, actor, d.OwnerID) {
		return
	}
	if d.ContactID != nil && !sameUUID(d.ContactID, before.ContactID) && !h.checkContactRef(w, r, actor, *d.ContactID) {
		return
	}

	stageChanged := d.Stage != before.Stage
	if stageChanged && d.Closed() && d.ActualClose == nil {
		now := time.Now().UTC()
		d.ActualClose = &now
	}

	if err := h.store.UpdateDeal(ctx, d); err != nil {
		h.storeError(w, err, "Deal")
		return
	}

	changes := make(changeSet)
	changes.note("title", before.Title, d.Title)
	changes.note("value", before.Value, d.Value)
	changes.note("currency", before.Currency, d.Currency)
	if in.Probability != nil {
		changes.note("probability", before.Probability, d.Probability)
	}
	changes.note("expectedClose", before.ExpectedClose, d.ExpectedClose)
	changes.note("contactId", before.ContactID, d.ContactID)
	changes.note("visibility", before.Visibility, d.Visibility)
	changes.note("visibleTo", before.VisibleTo, d.VisibleTo)

	if len(changes) > 0 {
		h.record(r, audit.Event{
			Action:     db.AuditUpdated,
			Entity:     db.EntityDeal,
			EntityID:   &d.ID,
			EntityName: d.Title,
			Details:    map[string]any{"changes": changes},
		})
	}

	if stageChanged {
		h.dealStageChanged(r, actor, d, before.Stage)
	}

	if ownerChanged {
		h.record(r, audit.Event{
			Action:     db.AuditAssigned,
			Entity:     db.EntityDeal,
			EntityID:   &d.ID,
			EntityName: d.Title,
			Details:    change{From: before.OwnerID, To: d.OwnerID},
		})
		if d.OwnerID != actor.ID {
			h.notifyDealOwner(r, actor, d)
		}
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) dealStageChanged(r *http.Request, actor *db.User, d *db.Deal, from string) {
	ctx := r.Context()

	activity := &db.Activity{
		ID:             uuid.New(),
		OrganizationID: d.OrganizationID,
		Type:           db.ActivityDealUpdated,
		Subject:        fmt.Sprintf("Stage changed from %s to %s", from, d.Stage),
		ContactID:      d.ContactID,
		DealID:         &d.ID,
		UserID:         actor.ID,
	}
	if err := h.store.CreateActivity(ctx, activity); err != nil {
		h.logger.Error("failed to record deal activity",
			zap.String("deal_id", d.ID.String()),
			zap.Error(err),
		)
	}

	h.record(r, audit.Event{
		Action:     db.AuditStageChanged,
		Entity:     db.EntityDeal,
		EntityID:   &d.ID,
		EntityName: d.Title,
		Details:    map[string]any{"from": from, "to": d.Stage, "value": d.Value, "probability": d.Probability},
	})

	msg := notify.Message{
		OrganizationID: d.OrganizationID,
		Link:           "/deals/" + d.ID.String(),
		Metadata:       meta(map[string]any{"dealId": d.ID, "from": from, "to": d.Stage, "value": d.Value}),
	}
	switch d.Stage {
	case db.DealStageWon:
		msg.Type = notify.TypeDealWon
		msg.Title = "Deal won"
		msg.Body = fmt.Sprintf("%s closed %s (%.2f %s)", actor.Name, d.Title, d.Value, d.Currency)
		h.dispatch(ctx, notify.ToOrg(msg, &actor.ID))
	case db.DealStageLost:
		msg.Type = notify.TypeDealLost
		msg.Title = "Deal lost"
		msg.Body = fmt.Sprintf("%s marked %s as lost", actor.Name, d.Title)
		h.dispatch(ctx, notify.ToOrg(msg, &actor.ID))
	default:
		if d.OwnerID == actor.ID {
			return
		}
		msg.Type = notify.TypeDealStageChanged
		msg.Title = "Deal stage changed"
		msg.Body = fmt.Sprintf("%s moved %s from %s to %s", actor.Name, d.Title, from, d.Stage)
		h.dispatch(ctx, notify.ToUser(d.OwnerID, msg))
	}
}

// DeleteDeal handles DELETE /v1/deals/{id}.
func (h *Handler) DeleteDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	d, ok := h.loadDeal(w, r)
	if !ok {
		return
	}
	if !access.CanDelete(actor.ID, actor.Role, d.OwnerID, d.CreatedByID) {
		h.forbidden(w, "only the owner, the creator or a manager can delete this deal")
		return
	}

	if err := h.store.DeleteDeal(ctx, actor.OrganizationID, d.ID); err != nil {
		h.storeError(w, err, "Deal")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditDeleted,
		Entity:     db.EntityDeal,
		EntityID:   &d.ID,
		EntityName: d.Title,
		Details:    map[string]any{"stage": d.Stage, "value": d.Value},
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadDeal(w http.ResponseWriter, r *http.Request) (*db.Deal, bool) {
	actor, _ := actorFrom(r.Context())

	id, err := pathID(r)
	if err != nil {
		h.badRequest(w, "Invalid id", "id must be a valid UUID")
		return nil, false
	}

	d, err := h.store.GetDeal(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.storeError(w, err, "Deal")
		return nil, false
	}
	if !readScope(actor).CanView(d.Grant()) {
		h.notFound(w, "Deal")
		return nil, false
	}
	return d, true
}

// checkContactRef verifies a referenced contact exists and is visible.
func (h *Handler) checkContactRef(w http.ResponseWriter, r *http.Request, actor *db.User, id uuid.UUID) bool {
	c, err := h.store.GetContact(r.Context(), actor.OrganizationID, id)
	if err != nil || !readScope(actor).CanView(c.Grant()) {
		h.badRequest(w, "Unknown contact", "contact "+id.String()+" does not exist")
		return false
	}
	return true
}

// checkDealRef verifies a referenced deal exists and is visible.
func (h *Handler) checkDealRef(w http.ResponseWriter, r *http.Request, actor *db.User, id uuid.UUID) bool {
	d, err := h.store.GetDeal(r.Context(), actor.OrganizationID, id)
	if err != nil || !readScope(actor).CanView(d.Grant()) {
		h.badRequest(w, "Unknown deal", "deal "+id.String()+" does not exist")
		return false
	}
	return true
}

func (h *Handler) notifyDealOwner(r *http.Request, actor *db.User, d *db.Deal) {
	h.dispatch(r.Context(), notify.ToUser(d.OwnerID, notify.Message{
		OrganizationID: actor.OrganizationID,
		Type:           notify.TypeDealAssigned,
		Title:          "Deal assigned to you",
		Body:           fmt.Sprintf("%s assigned %s to you", actor.Name, d.Title),
		Link:           "/deals/" + d.ID.String(),
		Metadata:       meta(map[string]any{"dealId": d.ID}),
	}))
}
