package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const contactColumns = `id, organization_id, first_name, last_name, email, phone, company, title,
	status, notes, owner_id, created_by_id, visibility, visible_to, created_at, updated_at`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.FirstName,
		&c.LastName,
		&c.Email,
		&c.Phone,
		&c.Company,
		&c.Title,
		&c.Status,
		&c.Notes,
		&c.OwnerID,
		&c.CreatedByID,
		&c.Visibility,
		&c.VisibleTo,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func grantList(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// CreateContact inserts a contact. A second contact with the same email in
// the same organization yields ErrConflict.
func (r *Repository) CreateContact(ctx context.Context, c *Contact) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.OrganizationID, c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.Title,
		c.Status, c.Notes, c.OwnerID, c.CreatedByID, c.Visibility, grantList(c.VisibleTo),
		c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contact email: %w", ErrConflict)
	}
	if err != nil {
		r.logger.Error("failed to create contact",
			zap.Error(err),
			zap.String("organization_id", c.OrganizationID.String()),
		)
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// GetContact loads a contact inside the tenant.
func (r *Repository) GetContact(ctx context.Context, orgID, id uuid.UUID) (*Contact, error) {
	c, err := scanContact(r.db.Pool().QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND organization_id = $2`, id, orgID))
	if notFound(err) {
		return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return c, nil
}

// ListContacts returns the contacts visible under the filter's scope.
func (r *Repository) ListContacts(ctx context.Context, f ContactFilter) ([]*Contact, error) {
	var w where
	w.scope(f.Scope, "")
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add("(first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ? OR company ILIKE ?)", p, p, p, p)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts` + w.String() +
		` ORDER BY updated_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// UpdateContact writes every mutable contact field.
func (r *Repository) UpdateContact(ctx context.Context, c *Contact) error {
	c.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool().Exec(ctx, `
		UPDATE contacts SET
			first_name = $1, last_name = $2, email = $3, phone = $4, company = $5, title = $6,
			status = $7, notes = $8, owner_id = $9, visibility = $10, visible_to = $11, updated_at = $12
		WHERE id = $13 AND organization_id = $14`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.Title,
		c.Status, c.Notes, c.OwnerID, c.Visibility, grantList(c.VisibleTo), c.UpdatedAt,
		c.ID, c.OrganizationID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contact email: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("contact %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DeleteContact removes a contact inside the tenant.
func (r *Repository) DeleteContact(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM contacts WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return nil
}
