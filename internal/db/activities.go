package db

import (
	"context"
	"fmt"
	"time"
)

// CreateActivity appends a timeline entry.
func (r *Repository) CreateActivity(ctx context.Context, a *Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO activities (
			id, organization_id, type, subject, description, contact_id, deal_id, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OrganizationID, a.Type, a.Subject, a.Description,
		a.ContactID, a.DealID, a.UserID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivities returns a tenant's timeline, newest first.
func (r *Repository) ListActivities(ctx context.Context, f ActivityFilter) ([]*Activity, error) {
	var w where
	w.add("organization_id = ?", f.OrganizationID)
	if f.ContactID != nil {
		w.add("contact_id = ?", *f.ContactID)
	}
	if f.DealID != nil {
		w.add("deal_id = ?", *f.DealID)
	}

	query := `
		SELECT id, organization_id, type, subject, description, contact_id, deal_id, user_id, created_at
		FROM activities` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(
			&a.ID,
			&a.OrganizationID,
			&a.Type,
			&a.Subject,
			&a.Description,
			&a.ContactID,
			&a.DealID,
			&a.UserID,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}
