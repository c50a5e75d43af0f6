package db

import (
	"context"
	"fmt"
	"time"
)

// CreateAuditLog appends one audit entry. Entries are never updated.
func (r *Repository) CreateAuditLog(ctx context.Context, e *AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO audit_logs (
			id, action, entity, entity_id, entity_name, details,
			user_id, user_name, organization_id, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Action, e.Entity, e.EntityID, e.EntityName, nullableJSON(e.Details),
		e.UserID, e.UserName, e.OrganizationID, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns one page of matching entries and the total count.
func (r *Repository) ListAuditLogs(ctx context.Context, f AuditFilter) ([]*AuditLogEntry, int, error) {
	var w where
	w.add("organization_id = ?", f.OrganizationID)
	if f.Entity != "" {
		w.add("entity = ?", f.Entity)
	}
	if f.EntityID != nil {
		w.add("entity_id = ?", *f.EntityID)
	}
	if f.UserID != nil {
		w.add("user_id = ?", *f.UserID)
	}
	if f.Action != "" {
		w.add("action = ?", f.Action)
	}
	if f.StartDate != nil {
		w.add("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		w.add("created_at <= ?", *f.EndDate)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add("(entity_name ILIKE ? OR user_name ILIKE ? OR details::text ILIKE ?)", p, p, p)
	}

	var total int
	if err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	query := `
		SELECT id, action, entity, entity_id, entity_name, details,
			user_id, user_name, organization_id, ip_address, user_agent, created_at
		FROM audit_logs` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.Action,
			&e.Entity,
			&e.EntityID,
			&e.EntityName,
			&e.Details,
			&e.UserID,
			&e.UserName,
			&e.OrganizationID,
			&e.IPAddress,
			&e.UserAgent,
			&e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, total, nil
}
