// Package sns is the SMS gateway behind the sms notification provider.
package sns

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// maxSMSLength is one GSM segment; longer texts are cut.
const maxSMSLength = 160

// API is the subset of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds SNS configuration. Endpoint overrides the AWS endpoint (for
// LocalStack).
type Config struct {
	Region   string
	Endpoint string
	SenderID string
}

// Publisher sends transactional SMS through SNS direct publish.
type Publisher struct {
	client   API
	senderID string
	logger   *zap.Logger
}

// NewPublisher loads the default AWS config and builds an SNS client.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewPublisherWithClient(client, cfg.SenderID, logger), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client API, senderID string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		senderID: senderID,
		logger:   logger,
	}
}

// SendSMS publishes message to phone and returns the SNS message id.
func (p *Publisher) SendSMS(ctx context.Context, phone, message string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("sms: empty phone number")
	}
	if message == "" {
		return "", fmt.Errorf("sms: empty message")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(Truncate(message, maxSMSLength)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	id := aws.ToString(result.MessageId)
	p.logger.Info("sms sent via SNS",
		zap.String("message_id", id),
	)
	return id, nil
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
