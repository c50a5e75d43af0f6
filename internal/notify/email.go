package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// SESAPI is the subset of the SES client the email provider uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailConfig configures the email provider.
type EmailConfig struct {
	Region    string
	FromEmail string
	// AppURL prefixes relative notification links in the message body.
	AppURL string
}

// Email sends notifications through AWS SES.
type Email struct {
	client SESAPI
	from   string
	appURL string
	logger *zap.Logger
}

// NewEmailFromAWS loads the default AWS config and builds an SES client.
func NewEmailFromAWS(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*Email, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewEmail(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewEmail wraps an existing SES client.
func NewEmail(client SESAPI, cfg EmailConfig, logger *zap.Logger) *Email {
	return &Email{
		client: client,
		from:   cfg.FromEmail,
		appURL: strings.TrimRight(cfg.AppURL, "/"),
		logger: logger,
	}
}

func (p *Email) Name() string { return "email" }

// IsEnabled follows the organization's email toggle.
func (p *Email) IsEnabled(_ string, settings db.OrganizationSettings) bool {
	return settings.EmailNotifications
}

// Accepts requires an email address.
func (p *Email) Accepts(user *db.User) bool { return user.Email != "" }

func (p *Email) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	if !p.Accepts(user) {
		return false
	}

	input := &ses.SendEmailInput{
		Source: aws.String(p.from),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(p.body(n, user)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		p.logger.Error("ses send failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return false
	}

	p.logger.Info("email sent via SES",
		zap.String("notification_id", n.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return true
}

func (p *Email) body(n *db.Notification, user *db.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.Name)
	if n.Message != nil {
		b.WriteString(*n.Message)
	} else {
		b.WriteString(n.Title)
	}
	b.WriteString("\n")
	if n.Link != nil {
		link := *n.Link
		if strings.HasPrefix(link, "/") {
			link = p.appURL + link
		}
		fmt.Fprintf(&b, "\nOpen: %s\n", link)
	}
	return b.String()
}
