// Package sqs carries notification requests through an SQS queue so the
// API process can hand off fan-out and a consumer loop delivers it.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/notify"
)

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// Endpoint overrides the AWS endpoint (LocalStack, ElasticMQ).
	Endpoint string
}

// NewClient loads the default AWS config and builds an SQS client.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Envelope is the message body on the queue.
type Envelope struct {
	Request    notify.Request `json:"request"`
	EnqueuedAt int64          `json:"enqueuedAt"`
}

// Producer enqueues notification requests. It satisfies notify.Dispatcher.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a producer over an existing client.
func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue sends req to the queue and returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, req notify.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid notification request: %w", err)
	}

	body, err := json.Marshal(Envelope{Request: req, EnqueuedAt: time.Now().UnixNano()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// dispatchTimeout bounds a single enqueue made on behalf of a request.
const dispatchTimeout = 5 * time.Second

// Dispatch enqueues req, logging instead of returning failures. The send
// outlives the caller's context, which is usually an HTTP request that ends
// as soon as the response is written.
func (p *Producer) Dispatch(ctx context.Context, req notify.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	msgID, err := p.Enqueue(ctx, req)
	if err != nil {
		p.logger.Error("failed to enqueue notification",
			zap.String("type", req.Message.Type),
			zap.String("organization_id", req.Message.OrganizationID.String()),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("notification enqueued",
		zap.String("message_id", msgID),
		zap.String("type", req.Message.Type),
	)
}
