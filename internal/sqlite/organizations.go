package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// CreateOrganization inserts a tenant. Slug clashes surface as db.ErrConflict.
func (s *Store) CreateOrganization(ctx context.Context, org *db.Organization) error {
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now

	settings, err := marshalText(org.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug, settings, org.CreatedAt, org.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("organization slug %q: %w", org.Slug, db.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}

	s.logger.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)
	return nil
}

// GetOrganization loads a tenant by id.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*db.Organization, error) {
	var row organizationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM organizations WHERE id = ?`, id)
	if notFound(err) {
		return nil, fmt.Errorf("organization %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return row.model(), nil
}

// UpdateOrganizationSettings replaces the settings document.
func (s *Store) UpdateOrganizationSettings(ctx context.Context, id uuid.UUID, settings db.OrganizationSettings) error {
	text, err := marshalText(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET settings = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating organization settings: %w", err)
	}
	return affected(result, "organization "+id.String())
}

// CreateUser inserts a user. Emails are globally unique.
func (s *Store) CreateUser(ctx context.Context, u *db.User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	prefs, err := marshalText(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, organization_id, email, name, phone, role, is_active, preferences, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.OrganizationID, u.Email, u.Name, u.Phone, u.Role, u.IsActive, prefs,
		u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %q: %w", u.Email, db.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUser loads a user by id regardless of tenant.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if notFound(err) {
		return nil, fmt.Errorf("user %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return row.model(), nil
}

// ListUsers returns every user of the organization, active or not.
func (s *Store) ListUsers(ctx context.Context, orgID uuid.UUID) ([]*db.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM users WHERE organization_id = ? ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return usersFrom(rows), nil
}

// ListActiveUsers returns active users of the organization, optionally only
// those holding one of roles.
func (s *Store) ListActiveUsers(ctx context.Context, orgID uuid.UUID, roles ...string) ([]*db.User, error) {
	query := `SELECT * FROM users WHERE organization_id = ? AND is_active = 1`
	args := []any{orgID}
	if len(roles) > 0 {
		query += ` AND role IN (?)`
		args = append(args, roles)
	}
	query += ` ORDER BY created_at ASC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expanding roles: %w", err)
	}

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing active users: %w", err)
	}
	return usersFrom(rows), nil
}

// CountActiveAdmins counts active admins of the organization.
func (s *Store) CountActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM users
		WHERE organization_id = ? AND role = 'admin' AND is_active = 1`, orgID)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

// UpdateUser writes the mutable user fields.
func (s *Store) UpdateUser(ctx context.Context, u *db.User) error {
	u.UpdatedAt = time.Now().UTC()

	prefs, err := marshalText(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = ?, phone = ?, role = ?, is_active = ?, preferences = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		u.Name, u.Phone, u.Role, u.IsActive, prefs, u.UpdatedAt,
		u.ID, u.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return affected(result, "user "+u.ID.String())
}

func usersFrom(rows []userRow) []*db.User {
	users := make([]*db.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.model())
	}
	return users
}
