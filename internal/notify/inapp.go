package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// NotificationWriter persists in-app notifications.
type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// InApp stores the notification row the user's inbox reads.
type InApp struct {
	store  NotificationWriter
	logger *zap.Logger
}

// NewInApp creates the in-app provider.
func NewInApp(store NotificationWriter, logger *zap.Logger) *InApp {
	return &InApp{store: store, logger: logger}
}

func (p *InApp) Name() string { return "in_app" }

// IsEnabled is always true: the inbox is the channel of record.
func (p *InApp) IsEnabled(string, db.OrganizationSettings) bool { return true }

func (p *InApp) Accepts(*db.User) bool { return true }

func (p *InApp) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	if err := p.store.CreateNotification(ctx, n); err != nil {
		p.logger.Error("failed to store in-app notification",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
