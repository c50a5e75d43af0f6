package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, organization_id, title, description, status, priority, due_date,
	completed_at, assigned_to_id, contact_id, deal_id, owner_id, created_by_id, visibility,
	visible_to, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.OrganizationID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.DueDate,
		&t.CompletedAt,
		&t.AssignedToID,
		&t.ContactID,
		&t.DealID,
		&t.OwnerID,
		&t.CreatedByID,
		&t.Visibility,
		&t.VisibleTo,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a task.
func (r *Repository) CreateTask(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.OrganizationID, t.Title, t.Description, t.Status, t.Priority, t.DueDate,
		t.CompletedAt, t.AssignedToID, t.ContactID, t.DealID, t.OwnerID, t.CreatedByID,
		t.Visibility, grantList(t.VisibleTo), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a task inside the tenant.
func (r *Repository) GetTask(ctx context.Context, orgID, id uuid.UUID) (*Task, error) {
	t, err := scanTask(r.db.Pool().QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND organization_id = $2`, id, orgID))
	if notFound(err) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// ListTasks returns the tasks visible under the filter's scope. Tasks are
// also visible to their assignee.
func (r *Repository) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var w where
	w.scope(f.Scope, "assigned_to_id")
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.AssignedToID != nil {
		w.add("assigned_to_id = ?", *f.AssignedToID)
	}
	if f.DealID != nil {
		w.add("deal_id = ?", *f.DealID)
	}
	if f.ContactID != nil {
		w.add("contact_id = ?", *f.ContactID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + w.String() +
		` ORDER BY due_date ASC NULLS LAST, created_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask writes every mutable task field.
func (r *Repository) UpdateTask(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool().Exec(ctx, `
		UPDATE tasks SET
			title = $1, description = $2, status = $3, priority = $4, due_date = $5,
			completed_at = $6, assigned_to_id = $7, contact_id = $8, deal_id = $9, owner_id = $10,
			visibility = $11, visible_to = $12, updated_at = $13
		WHERE id = $14 AND organization_id = $15`,
		t.Title, t.Description, t.Status, t.Priority, t.DueDate,
		t.CompletedAt, t.AssignedToID, t.ContactID, t.DealID, t.OwnerID,
		t.Visibility, grantList(t.VisibleTo), t.UpdatedAt,
		t.ID, t.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task inside the tenant.
func (r *Repository) DeleteTask(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
