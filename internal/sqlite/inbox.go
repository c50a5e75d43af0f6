package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lalithlochan/stratus/internal/db"
)

// CreateNotification inserts an in-app notification.
func (s *Store) CreateNotification(ctx context.Context, n *db.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, type, title, message, link, metadata,
			user_id, organization_id, is_read, read_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Title, n.Message, n.Link, jsonText(n.Metadata),
		n.UserID, n.OrganizationID, n.IsRead, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, f db.NotificationFilter) ([]*db.Notification, error) {
	var w where
	w.add("user_id = ?", f.UserID)
	w.add("organization_id = ?", f.OrganizationID)
	if f.UnreadOnly {
		w.add("is_read = 0")
	}

	query := `SELECT * FROM notifications` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	notifications := make([]*db.Notification, 0, len(rows))
	for _, r := range rows {
		notifications = append(notifications, r.model())
	}
	return notifications, nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (s *Store) CountUnreadNotifications(ctx context.Context, userID, orgID uuid.UUID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND organization_id = ? AND is_read = 0`, userID, orgID)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationsRead flags the given notifications of userID as read.
// Ids owned by someone else are ignored.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND organization_id = ? AND is_read = 0 AND id IN (?)`,
		time.Now().UTC(), userID, orgID, ids)
	if err != nil {
		return 0, fmt.Errorf("expanding ids: %w", err)
	}
	return s.execCount(ctx, "marking notifications read", query, args...)
}

// MarkAllNotificationsRead flags every unread notification of userID.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID, orgID uuid.UUID) (int64, error) {
	return s.execCount(ctx, "marking all notifications read", `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND organization_id = ? AND is_read = 0`,
		time.Now().UTC(), userID, orgID)
}

// DeleteNotifications removes the given notifications of userID.
func (s *Store) DeleteNotifications(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM notifications WHERE user_id = ? AND organization_id = ? AND id IN (?)`,
		userID, orgID, ids)
	if err != nil {
		return 0, fmt.Errorf("expanding ids: %w", err)
	}
	return s.execCount(ctx, "deleting notifications", query, args...)
}

// DeleteAllNotifications clears the inbox of userID.
func (s *Store) DeleteAllNotifications(ctx context.Context, userID, orgID uuid.UUID) (int64, error) {
	return s.execCount(ctx, "deleting all notifications",
		`DELETE FROM notifications WHERE user_id = ? AND organization_id = ?`, userID, orgID)
}

func (s *Store) execCount(ctx context.Context, what, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", what, err)
	}
	return n, nil
}

// CreateAuditLog appends one audit entry.
func (s *Store) CreateAuditLog(ctx context.Context, e *db.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, action, entity, entity_id, entity_name, details,
			user_id, user_name, organization_id, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Entity, e.EntityID, e.EntityName, jsonText(e.Details),
		e.UserID, e.UserName, e.OrganizationID, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns one page of matching entries and the total count.
func (s *Store) ListAuditLogs(ctx context.Context, f db.AuditFilter) ([]*db.AuditLogEntry, int, error) {
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
		w.add("created_at >= ?", f.StartDate.UTC())
	}
	if f.EndDate != nil {
		w.add("created_at <= ?", f.EndDate.UTC())
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add(`(entity_name LIKE ? ESCAPE '\' OR user_name LIKE ? ESCAPE '\' OR details LIKE ? ESCAPE '\')`, p, p, p)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("counting audit logs: %w", err)
	}

	query := `SELECT * FROM audit_logs` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("listing audit logs: %w", err)
	}
	entries := make([]*db.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.model())
	}
	return entries, total, nil
}
