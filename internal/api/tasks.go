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

type taskInput struct {
	Title        *string      `json:"title"`
	Description  *string      `json:"description"`
	Status       *string      `json:"status"`
	Priority     *string      `json:"priority"`
	DueDate      nullableTime `json:"dueDate"`
	AssignedToID nullableUUID `json:"assignedToId"`
	ContactID    nullableUUID `json:"contactId"`
	DealID       nullableUUID `json:"dealId"`
	Visibility   *string      `json:"visibility"`
	VisibleTo    *[]uuid.UUID `json:"visibleTo"`
}

func validTaskStatus(s string) bool {
	return s == db.TaskStatusTodo || s == db.TaskStatusInProgress || s == db.TaskStatusDone
}

func validTaskPriority(p string) bool {
	return p == db.TaskPriorityLow || p == db.TaskPriorityMedium || p == db.TaskPriorityHigh
}

func (in taskInput) apply(t *db.Task) string {
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		t.Description = emptyToNil(in.Description)
	}
	if in.Status != nil {
		if !validTaskStatus(*in.Status) {
			return "status must be one of todo, in_progress, done"
		}
		t.Status = *in.Status
	}
	if in.Priority != nil {
		if !validTaskPriority(*in.Priority) {
			return "priority must be one of low, medium, high"
		}
		t.Priority = *in.Priority
	}
	if in.DueDate.Set {
		t.DueDate = in.DueDate.Value
	}
	if in.AssignedToID.Set {
		t.AssignedToID = in.AssignedToID.Value
	}
	if in.ContactID.Set {
		t.ContactID = in.ContactID.Value
	}
	if in.DealID.Set {
		t.DealID = in.DealID.Value
	}
	if in.Visibility != nil {
		if !access.ValidVisibility(*in.Visibility) {
			return "visibility must be org or private"
		}
		t.Visibility = *in.Visibility
	}
	if in.VisibleTo != nil {
		t.VisibleTo = dedupe(*in.VisibleTo)
	}
	if t.Title == "" {
		return "title is required"
	}
	return ""
}

// ListTasks handles GET /v1/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	scope, ok := h.listScope(w, r, actor)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !validTaskStatus(status) {
		h.badRequest(w, "Invalid status", "status must be one of todo, in_progress, done")
		return
	}

	filter := db.TaskFilter{Scope: scope, Status: status, Page: pageFrom(r)}
	var err error
	if filter.AssignedToID, err = queryUUID(r, "assignedToId"); err != nil {
		h.badRequest(w, "Invalid assignedToId", err.Error())
		return
	}
	if filter.DealID, err = queryUUID(r, "dealId"); err != nil {
		h.badRequest(w, "Invalid dealId", err.Error())
		return
	}
	if filter.ContactID, err = queryUUID(r, "contactId"); err != nil {
		h.badRequest(w, "Invalid contactId", err.Error())
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		h.storeError(w, err, "Tasks")
		return
	}

	writeJSON(w, http.StatusOK, list(tasks, len(tasks), filter.Page))
}

// GetTask handles GET /v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTask handles POST /v1/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	var in taskInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	t := &db.Task{
		ID:             uuid.New(),
		OrganizationID: actor.OrganizationID,
		Status:         db.TaskStatusTodo,
		Priority:       db.TaskPriorityMedium,
		OwnerID:        actor.ID,
		CreatedByID:    &actor.ID,
		Visibility:     h.defaultVisibility(ctx, actor.OrganizationID),
		VisibleTo:      []uuid.UUID{},
	}
	if msg := in.apply(t); msg != "" {
		h.badRequest(w, "Invalid task", msg)
		return
	}
	if !h.checkTaskRefs(w, r, actor, t, nil) {
		return
	}
	if t.Status == db.TaskStatusDone {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}

	if err := h.store.CreateTask(ctx, t); err != nil {
		h.storeError(w, err, "Task")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditCreated,
		Entity:     db.EntityTask,
		EntityID:   &t.ID,
		EntityName: t.Title,
		Details:    map[string]any{"priority": t.Priority, "assignedToId": t.AssignedToID},
	})

	if t.AssignedToID != nil {
		h.taskAssigned(r, actor, t, nil)
	}

	writeJSON(w, http.StatusCreated, t)
}

// UpdateTask handles PUT /v1/tasks/{id}.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	t, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	var in taskInput
	if err := decode(r, &in); err != nil {
		h.badRequest(w, "Malformed JSON body", err.Error())
		return
	}

	before := *t
	if msg := in.apply(t); msg != "" {
		h.badRequest(w, "Invalid task", msg)
		return
	}
	if !h.checkTaskRefs(w, r, actor, t, &before) {
		return
	}

	completed := t.Status == db.TaskStatusDone && before.Status != db.TaskStatusDone
	switch {
	case completed:
		now := time.Now().UTC()
		t.CompletedAt = &now
	case t.Status != db.TaskStatusDone:
		t.CompletedAt = nil
	}

	if err := h.store.UpdateTask(ctx, t); err != nil {
		h.storeError(w, err, "Task")
		return
	}

	changes := make(changeSet)
	changes.note("title", before.Title, t.Title)
	changes.note("description", before.Description, t.Description)
	changes.note("status", before.Status, t.Status)
	changes.note("priority", before.Priority, t.Priority)
	changes.note("dueDate", before.DueDate, t.DueDate)
	changes.note("contactId", before.ContactID, t.ContactID)
	changes.note("dealId", before.DealID, t.DealID)
	changes.note("visibility", before.Visibility, t.Visibility)
	changes.note("visibleTo", before.VisibleTo, t.VisibleTo)
	if completed {
		changes = changes.without("status")
	}

	if len(changes) > 0 {
		h.record(r, audit.Event{
			Action:     db.AuditUpdated,
			Entity:     db.EntityTask,
			EntityID:   &t.ID,
			EntityName: t.Title,
			Details:    map[string]any{"changes": changes},
		})
	}

	if !sameUUID(t.AssignedToID, before.AssignedToID) {
		h.taskAssigned(r, actor, t, before.AssignedToID)
	}

	if completed {
		h.taskCompleted(r, actor, t)
	}

	writeJSON(w, http.StatusOK, t)
}

// checkTaskRefs validates the assignee and linked records that changed
// relative to before (nil on create).
func (h *Handler) checkTaskRefs(w http.ResponseWriter, r *http.Request, actor *db.User, t *db.Task, before *db.Task) bool {
	var prev db.Task
	if before != nil {
		prev = *before
	}
	if t.AssignedToID != nil && !sameUUID(t.AssignedToID, prev.AssignedToID) {
		if !h.checkAssignee(w, r, actor, *t.AssignedToID) {
			return false
		}
	}
	if t.ContactID != nil && !sameUUID(t.ContactID, prev.ContactID) {
		if !h.checkContactRef(w, r, actor, *t.ContactID) {
			return false
		}
	}
	if t.DealID != nil && !sameUUID(t.DealID, prev.DealID) {
		if !h.checkDealRef(w, r, actor, *t.DealID) {
			return false
		}
	}
	return true
}

// taskAssigned audits every assignee change, unassigning and self
// assignment included. Only a new assignee other than the actor is notified.
func (h *Handler) taskAssigned(r *http.Request, actor *db.User, t *db.Task, from *uuid.UUID) {
	h.record(r, audit.Event{
		Action:     db.AuditAssigned,
		Entity:     db.EntityTask,
		EntityID:   &t.ID,
		EntityName: t.Title,
		Details:    change{From: from, To: t.AssignedToID},
	})

	if t.AssignedToID == nil || *t.AssignedToID == actor.ID {
		return
	}

	body := fmt.Sprintf("%s assigned you %q", actor.Name, t.Title)
	if t.DueDate != nil {
		body += " due " + t.DueDate.Format(time.DateOnly)
	}
	h.dispatch(r.Context(), notify.ToUser(*t.AssignedToID, notify.Message{
		OrganizationID: t.OrganizationID,
		Type:           notify.TypeTaskAssigned,
		Title:          "New task assigned",
		Body:           body,
		Link:           "/tasks/" + t.ID.String(),
		Metadata:       meta(map[string]any{"taskId": t.ID, "priority": t.Priority}),
	}))
}

func (h *Handler) taskCompleted(r *http.Request, actor *db.User, t *db.Task) {
	ctx := r.Context()

	h.record(r, audit.Event{
		Action:     db.AuditCompleted,
		Entity:     db.EntityTask,
		EntityID:   &t.ID,
		EntityName: t.Title,
		Details:    map[string]any{"completedAt": t.CompletedAt},
	})

	if t.ContactID != nil || t.DealID != nil {
		activity := &db.Activity{
			ID:             uuid.New(),
			OrganizationID: t.OrganizationID,
			Type:           db.ActivityTaskCompleted,
			Subject:        "Completed task: " + t.Title,
			ContactID:      t.ContactID,
			DealID:         t.DealID,
			UserID:         actor.ID,
		}
		if err := h.store.CreateActivity(ctx, activity); err != nil {
			h.logger.Error("failed to record task activity",
				zap.String("task_id", t.ID.String()),
				zap.Error(err),
			)
		}
	}

	if t.OwnerID == actor.ID {
		return
	}
	h.dispatch(ctx, notify.ToUser(t.OwnerID, notify.Message{
		OrganizationID: t.OrganizationID,
		Type:           notify.TypeTaskCompleted,
		Title:          "Task completed",
		Body:           fmt.Sprintf("%s completed %q", actor.Name, t.Title),
		Link:           "/tasks/" + t.ID.String(),
		Metadata:       meta(map[string]any{"taskId": t.ID}),
	}))
}

// DeleteTask handles DELETE /v1/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := actorFrom(ctx)

	t, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	if !access.CanDelete(actor.ID, actor.Role, t.OwnerID, t.CreatedByID) {
		h.forbidden(w, "only the owner, the creator or a manager can delete this task")
		return
	}

	if err := h.store.DeleteTask(ctx, actor.OrganizationID, t.ID); err != nil {
		h.storeError(w, err, "Task")
		return
	}

	h.record(r, audit.Event{
		Action:     db.AuditDeleted,
		Entity:     db.EntityTask,
		EntityID:   &t.ID,
		EntityName: t.Title,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadTask(w http.ResponseWriter, r *http.Request) (*db.Task, bool) {
	actor, _ := actorFrom(r.Context())

	id, err := pathID(r)
	if err != nil {
		h.badRequest(w, "Invalid id", "id must be a valid UUID")
		return nil, false
	}

	t, err := h.store.GetTask(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.storeError(w, err, "Task")
		return nil, false
	}
	if !readScope(actor).CanView(t.Grant()) {
		h.notFound(w, "Task")
		return nil, false
	}
	return t, true
}
