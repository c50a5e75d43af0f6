package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

// CreateContact inserts a contact. A second contact with the same email in
// the same organization yields db.ErrConflict.
func (s *Store) CreateContact(ctx context.Context, c *db.Contact) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (
			id, organization_id, first_name, last_name, email, phone, company, title,
			status, notes, owner_id, created_by_id, visibility, visible_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.Title,
		c.Status, c.Notes, c.OwnerID, c.CreatedByID, c.Visibility, access.EncodeVisibleTo(c.VisibleTo),
		c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contact email: %w", db.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating contact: %w", err)
	}
	return nil
}

// GetContact loads a contact inside the tenant.
func (s *Store) GetContact(ctx context.Context, orgID, id uuid.UUID) (*db.Contact, error) {
	var row contactRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM contacts WHERE id = ? AND organization_id = ?`, id, orgID)
	if notFound(err) {
		return nil, fmt.Errorf("contact %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}
	return row.model(), nil
}

// ListContacts returns the contacts visible under the filter's scope.
func (s *Store) ListContacts(ctx context.Context, f db.ContactFilter) ([]*db.Contact, error) {
	var w where
	w.scope(f.Scope, "")
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add(`(first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\' OR company LIKE ? ESCAPE '\')`,
			p, p, p, p)
	}

	query := `SELECT * FROM contacts` + w.String() + ` ORDER BY updated_at DESC` + w.paginate(f.Page)

	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	contacts := make([]*db.Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, r.model())
	}
	return contacts, nil
}

// UpdateContact writes every mutable contact field.
func (s *Store) UpdateContact(ctx context.Context, c *db.Contact) error {
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET
			first_name = ?, last_name = ?, email = ?, phone = ?, company = ?, title = ?,
			status = ?, notes = ?, owner_id = ?, visibility = ?, visible_to = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.Title,
		c.Status, c.Notes, c.OwnerID, c.Visibility, access.EncodeVisibleTo(c.VisibleTo), c.UpdatedAt,
		c.ID, c.OrganizationID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contact email: %w", db.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	return affected(result, "contact "+c.ID.String())
}

// DeleteContact removes a contact inside the tenant.
func (s *Store) DeleteContact(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	return affected(result, "contact "+id.String())
}

// CreateDeal inserts a deal.
func (s *Store) CreateDeal(ctx context.Context, d *db.Deal) error {
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (
			id, organization_id, title, value, currency, stage, probability,
			expected_close, actual_close, contact_id, owner_id, created_by_id,
			visibility, visible_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrganizationID, d.Title, d.Value, d.Currency, d.Stage, d.Probability,
		d.ExpectedClose, d.ActualClose, d.ContactID, d.OwnerID, d.CreatedByID,
		d.Visibility, access.EncodeVisibleTo(d.VisibleTo), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating deal: %w", err)
	}
	return nil
}

// GetDeal loads a deal inside the tenant.
func (s *Store) GetDeal(ctx context.Context, orgID, id uuid.UUID) (*db.Deal, error) {
	var row dealRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM deals WHERE id = ? AND organization_id = ?`, id, orgID)
	if notFound(err) {
		return nil, fmt.Errorf("deal %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting deal: %w", err)
	}
	return row.model(), nil
}

// ListDeals returns the deals visible under the filter's scope.
func (s *Store) ListDeals(ctx context.Context, f db.DealFilter) ([]*db.Deal, error) {
	var w where
	w.scope(f.Scope, "")
	if f.Stage != "" {
		w.add("stage = ?", f.Stage)
	}
	if f.ContactID != nil {
		w.add("contact_id = ?", *f.ContactID)
	}
	if f.Search != "" {
		w.add(`title LIKE ? ESCAPE '\'`, likePattern(f.Search))
	}

	query := `SELECT * FROM deals` + w.String() + ` ORDER BY updated_at DESC` + w.paginate(f.Page)

	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("listing deals: %w", err)
	}
	deals := make([]*db.Deal, 0, len(rows))
	for _, r := range rows {
		deals = append(deals, r.model())
	}
	return deals, nil
}

// UpdateDeal writes every mutable deal field.
func (s *Store) UpdateDeal(ctx context.Context, d *db.Deal) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE deals SET
			title = ?, value = ?, currency = ?, stage = ?, probability = ?,
			expected_close = ?, actual_close = ?, contact_id = ?, owner_id = ?,
			visibility = ?, visible_to = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		d.Title, d.Value, d.Currency, d.Stage, d.Probability,
		d.ExpectedClose, d.ActualClose, d.ContactID, d.OwnerID,
		d.Visibility, access.EncodeVisibleTo(d.VisibleTo), d.UpdatedAt,
		d.ID, d.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("updating deal: %w", err)
	}
	return affected(result, "deal "+d.ID.String())
}

// DeleteDeal removes a deal inside the tenant.
func (s *Store) DeleteDeal(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM deals WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting deal: %w", err)
	}
	return affected(result, "deal "+id.String())
}

// CreateTask inserts a task.
func (s *Store) CreateTask(ctx context.Context, t *db.Task) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, organization_id, title, description, status, priority, due_date,
			completed_at, assigned_to_id, contact_id, deal_id, owner_id, created_by_id,
			visibility, visible_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.Title, t.Description, t.Status, t.Priority, t.DueDate,
		t.CompletedAt, t.AssignedToID, t.ContactID, t.DealID, t.OwnerID, t.CreatedByID,
		t.Visibility, access.EncodeVisibleTo(t.VisibleTo), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetTask loads a task inside the tenant.
func (s *Store) GetTask(ctx context.Context, orgID, id uuid.UUID) (*db.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM tasks WHERE id = ? AND organization_id = ?`, id, orgID)
	if notFound(err) {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return row.model(), nil
}

// ListTasks returns the tasks visible under the filter's scope, including
// tasks assigned to the viewer.
func (s *Store) ListTasks(ctx context.Context, f db.TaskFilter) ([]*db.Task, error) {
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

	query := `SELECT * FROM tasks` + w.String() +
		` ORDER BY due_date IS NULL, due_date ASC, created_at DESC` + w.paginate(f.Page)

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	tasks := make([]*db.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.model())
	}
	return tasks, nil
}

// UpdateTask writes every mutable task field.
func (s *Store) UpdateTask(ctx context.Context, t *db.Task) error {
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?, due_date = ?,
			completed_at = ?, assigned_to_id = ?, contact_id = ?, deal_id = ?, owner_id = ?,
			visibility = ?, visible_to = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		t.Title, t.Description, t.Status, t.Priority, t.DueDate,
		t.CompletedAt, t.AssignedToID, t.ContactID, t.DealID, t.OwnerID,
		t.Visibility, access.EncodeVisibleTo(t.VisibleTo), t.UpdatedAt,
		t.ID, t.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return affected(result, "task "+t.ID.String())
}

// DeleteTask removes a task inside the tenant.
func (s *Store) DeleteTask(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return affected(result, "task "+id.String())
}

// CreateActivity appends a timeline entry.
func (s *Store) CreateActivity(ctx context.Context, a *db.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (
			id, organization_id, type, subject, description, contact_id, deal_id, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.Type, a.Subject, a.Description,
		a.ContactID, a.DealID, a.UserID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating activity: %w", err)
	}
	return nil
}

// ListActivities returns a tenant's timeline, newest first.
func (s *Store) ListActivities(ctx context.Context, f db.ActivityFilter) ([]*db.Activity, error) {
	var w where
	w.add("organization_id = ?", f.OrganizationID)
	if f.ContactID != nil {
		w.add("contact_id = ?", *f.ContactID)
	}
	if f.DealID != nil {
		w.add("deal_id = ?", *f.DealID)
	}

	query := `SELECT * FROM activities` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	activities := make([]*db.Activity, 0, len(rows))
	for _, r := range rows {
		activities = append(activities, r.model())
	}
	return activities, nil
}
