package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// OrganizationReader resolves an organization's webhook URL at send time.
type OrganizationReader interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*db.Organization, error)
}

// WebhookConfig configures the webhook provider.
type WebhookConfig struct {
	Timeout time.Duration
}

// Webhook POSTs each notification to the organization's webhook URL.
type Webhook struct {
	client *http.Client
	orgs   OrganizationReader
	logger *zap.Logger
}

// WebhookEvent is the JSON body receivers get.
type WebhookEvent struct {
	Event        string           `json:"event"`
	Notification *db.Notification `json:"notification"`
	User         WebhookUser      `json:"user"`
}

// WebhookUser is the recipient as exposed to webhook receivers.
type WebhookUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// NewWebhook creates the webhook provider.
func NewWebhook(orgs OrganizationReader, cfg WebhookConfig, logger *zap.Logger) *Webhook {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		orgs:   orgs,
		logger: logger,
	}
}

func (p *Webhook) Name() string { return "webhook" }

// IsEnabled requires a configured webhook URL.
func (p *Webhook) IsEnabled(_ string, settings db.OrganizationSettings) bool {
	return settings.WebhookURL != ""
}

// Accepts is always true: the receiver is the organization, not the user.
func (p *Webhook) Accepts(*db.User) bool { return true }

func (p *Webhook) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	org, err := p.orgs.GetOrganization(ctx, n.OrganizationID)
	if err != nil || org.Settings.WebhookURL == "" {
		p.logger.Warn("webhook target unavailable",
			zap.String("organization_id", n.OrganizationID.String()),
			zap.Error(err),
		)
		return false
	}

	body, err := json.Marshal(WebhookEvent{
		Event:        "notification." + n.Type,
		Notification: n,
		User:         WebhookUser{ID: user.ID, Email: user.Email, Name: user.Name},
	})
	if err != nil {
		p.logger.Error("failed to marshal webhook body", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, org.Settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("invalid webhook url",
			zap.String("organization_id", org.ID.String()),
			zap.Error(err),
		)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stratus-Webhook/1.0")
	req.Header.Set("X-Stratus-Notification-ID", n.ID.String())
	req.Header.Set("X-Stratus-Organization-ID", n.OrganizationID.String())

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("webhook request failed",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
		return false
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("webhook returned non-2xx status",
			zap.String("notification_id", n.ID.String()),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_preview", string(preview)),
		)
		return false
	}

	p.logger.Debug("webhook delivered",
		zap.String("notification_id", n.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return true
}
