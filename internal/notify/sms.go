package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// SMSSender is the SMS gateway (internal/sns in production).
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// smsTypes are the only types worth a text message.
var smsTypes = map[string]bool{
	TypeDealWon:      true,
	TypeDealLost:     true,
	TypeTaskAssigned: true,
}

// SMS texts users who have a phone number on file.
type SMS struct {
	sender SMSSender
	logger *zap.Logger
}

// NewSMS creates the SMS provider.
func NewSMS(sender SMSSender, logger *zap.Logger) *SMS {
	return &SMS{sender: sender, logger: logger}
}

func (p *SMS) Name() string { return "sms" }

// IsEnabled requires the organization toggle and an SMS-worthy type.
func (p *SMS) IsEnabled(notifType string, settings db.OrganizationSettings) bool {
	return settings.SMSNotifications && smsTypes[notifType]
}

// Accepts requires a phone number on file.
func (p *SMS) Accepts(user *db.User) bool {
	return user.Phone != nil && *user.Phone != ""
}

func (p *SMS) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	if !p.Accepts(user) {
		return false
	}

	text := n.Title
	if n.Message != nil && *n.Message != "" {
		text += ": " + *n.Message
	}

	if _, err := p.sender.SendSMS(ctx, *user.Phone, text); err != nil {
		p.logger.Error("sms send failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
