package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateOrganization inserts a tenant. Slug clashes surface as ErrConflict.
func (r *Repository) CreateOrganization(ctx context.Context, org *Organization) error {
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO organizations (id, name, slug, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		org.ID, org.Name, org.Slug, org.Settings, org.CreatedAt, org.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("organization slug %q: %w", org.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}

	r.logger.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)
	return nil
}

// GetOrganization loads a tenant by id.
func (r *Repository) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	var org Organization
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Slug, &org.Settings, &org.CreatedAt, &org.UpdatedAt)
	if notFound(err) {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query organization: %w", err)
	}
	return &org, nil
}

// UpdateOrganizationSettings replaces the settings document.
func (r *Repository) UpdateOrganizationSettings(ctx context.Context, id uuid.UUID, settings OrganizationSettings) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE organizations SET settings = $1, updated_at = $2 WHERE id = $3`,
		settings, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update organization settings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	return nil
}
