package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dealColumns = `id, organization_id, title, value, currency, stage, probability,
	expected_close, actual_close, contact_id, owner_id, created_by_id, visibility, visible_to,
	created_at, updated_at`

func scanDeal(row pgx.Row) (*Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID,
		&d.OrganizationID,
		&d.Title,
		&d.Value,
		&d.Currency,
		&d.Stage,
		&d.Probability,
		&d.ExpectedClose,
		&d.ActualClose,
		&d.ContactID,
		&d.OwnerID,
		&d.CreatedByID,
		&d.Visibility,
		&d.VisibleTo,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeal inserts a deal.
func (r *Repository) CreateDeal(ctx context.Context, d *Deal) error {
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.OrganizationID, d.Title, d.Value, d.Currency, d.Stage, d.Probability,
		d.ExpectedClose, d.ActualClose, d.ContactID, d.OwnerID, d.CreatedByID, d.Visibility,
		grantList(d.VisibleTo), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// GetDeal loads a deal inside the tenant.
func (r *Repository) GetDeal(ctx context.Context, orgID, id uuid.UUID) (*Deal, error) {
	d, err := scanDeal(r.db.Pool().QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1 AND organization_id = $2`, id, orgID))
	if notFound(err) {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query deal: %w", err)
	}
	return d, nil
}

// ListDeals returns the deals visible under the filter's scope.
func (r *Repository) ListDeals(ctx context.Context, f DealFilter) ([]*Deal, error) {
	var w where
	w.scope(f.Scope, "")
	if f.Stage != "" {
		w.add("stage = ?", f.Stage)
	}
	if f.ContactID != nil {
		w.add("contact_id = ?", *f.ContactID)
	}
	if f.Search != "" {
		w.add("title ILIKE ?", likePattern(f.Search))
	}

	query := `SELECT ` + dealColumns + ` FROM deals` + w.String() +
		` ORDER BY updated_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}
	return deals, nil
}

// UpdateDeal writes every mutable deal field.
func (r *Repository) UpdateDeal(ctx context.Context, d *Deal) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool().Exec(ctx, `
		UPDATE deals SET
			title = $1, value = $2, currency = $3, stage = $4, probability = $5,
			expected_close = $6, actual_close = $7, contact_id = $8, owner_id = $9,
			visibility = $10, visible_to = $11, updated_at = $12
		WHERE id = $13 AND organization_id = $14`,
		d.Title, d.Value, d.Currency, d.Stage, d.Probability,
		d.ExpectedClose, d.ActualClose, d.ContactID, d.OwnerID,
		d.Visibility, grantList(d.VisibleTo), d.UpdatedAt,
		d.ID, d.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

// DeleteDeal removes a deal inside the tenant.
func (r *Repository) DeleteDeal(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM deals WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return nil
}
