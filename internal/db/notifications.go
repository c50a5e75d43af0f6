package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateNotification inserts an in-app notification.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO notifications (
			id, type, title, message, link, metadata,
			user_id, organization_id, is_read, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.Type, n.Title, n.Message, n.Link, nullableJSON(n.Metadata),
		n.UserID, n.OrganizationID, n.IsRead, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", n.UserID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's inbox, newest first.
func (r *Repository) ListNotifications(ctx context.Context, f NotificationFilter) ([]*Notification, error) {
	var w where
	w.add("user_id = ?", f.UserID)
	w.add("organization_id = ?", f.OrganizationID)
	if f.UnreadOnly {
		w.add("is_read = FALSE")
	}

	query := `
		SELECT id, type, title, message, link, metadata,
			user_id, organization_id, is_read, read_at, created_at
		FROM notifications` + w.String() + ` ORDER BY created_at DESC` + w.paginate(f.Page)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.Link,
			&n.Metadata,
			&n.UserID,
			&n.OrganizationID,
			&n.IsRead,
			&n.ReadAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (r *Repository) CountUnreadNotifications(ctx context.Context, userID, orgID uuid.UUID) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND organization_id = $2 AND is_read = FALSE`, userID, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationsRead flags the given notifications of userID as read.
// Ids owned by someone else are ignored.
func (r *Repository) MarkNotificationsRead(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE user_id = $2 AND organization_id = $3 AND id = ANY($4) AND is_read = FALSE`,
		time.Now().UTC(), userID, orgID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// MarkAllNotificationsRead flags every unread notification of userID.
func (r *Repository) MarkAllNotificationsRead(ctx context.Context, userID, orgID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE user_id = $2 AND organization_id = $3 AND is_read = FALSE`,
		time.Now().UTC(), userID, orgID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteNotifications removes the given notifications of userID.
func (r *Repository) DeleteNotifications(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		DELETE FROM notifications WHERE user_id = $1 AND organization_id = $2 AND id = ANY($3)`,
		userID, orgID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteAllNotifications clears the inbox of userID.
func (r *Repository) DeleteAllNotifications(ctx context.Context, userID, orgID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND organization_id = $2`, userID, orgID)
	if err != nil {
		return 0, fmt.Errorf("delete all notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
