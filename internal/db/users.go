package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, organization_id, email, name, phone, role, is_active, preferences, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.OrganizationID,
		&u.Email,
		&u.Name,
		&u.Phone,
		&u.Role,
		&u.IsActive,
		&u.Preferences,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]*User, error) {
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// CreateUser inserts a user. Emails are globally unique.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.OrganizationID, u.Email, u.Name, u.Phone, u.Role, u.IsActive,
		u.Preferences, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %q: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser loads a user by id regardless of tenant; callers compare
// OrganizationID themselves.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.Pool().QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if notFound(err) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListUsers returns every user of the organization, active or not.
func (r *Repository) ListUsers(ctx context.Context, orgID uuid.UUID) ([]*User, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE organization_id = $1 ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return collectUsers(rows)
}

// ListActiveUsers returns active users of the organization, optionally only
// those holding one of roles.
func (r *Repository) ListActiveUsers(ctx context.Context, orgID uuid.UUID, roles ...string) ([]*User, error) {
	var w where
	w.add("organization_id = ?", orgID)
	w.add("is_active = TRUE")
	if len(roles) > 0 {
		w.add("role = ANY(?)", roles)
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY created_at ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	return collectUsers(rows)
}

// CountActiveAdmins counts active admins of the organization.
func (r *Repository) CountActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE organization_id = $1 AND role = 'admin' AND is_active = TRUE`, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// UpdateUser writes the mutable user fields.
func (r *Repository) UpdateUser(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool().Exec(ctx, `
		UPDATE users
		SET name = $1, phone = $2, role = $3, is_active = $4, preferences = $5, updated_at = $6
		WHERE id = $7 AND organization_id = $8`,
		u.Name, u.Phone, u.Role, u.IsActive, u.Preferences, u.UpdatedAt,
		u.ID, u.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}
