package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/metrics"
	"github.com/lalithlochan/stratus/internal/notify"
)

// Handler processes one dequeued request.
type Handler func(ctx context.Context, req notify.Request) error

// ConsumerConfig tunes the receive loop.
type ConsumerConfig struct {
	BatchSize   int32
	WaitSeconds int32
	// MaxReceives is how many deliveries a failing message gets before it is
	// dropped. Queues with a redrive policy should set it above maxReceiveCount.
	MaxReceives int
}

// Consumer long-polls the queue and hands each request to a Handler.
type Consumer struct {
	client   API
	queueURL string
	config   ConsumerConfig
	logger   *zap.Logger
}

// NewConsumer creates a consumer over an existing client.
func NewConsumer(client API, queueURL string, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	if cfg.WaitSeconds <= 0 {
		cfg.WaitSeconds = 20
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = 3
	}
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		config:   cfg,
		logger:   logger,
	}
}

// Run receives until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	c.logger.Info("sqs consumer started", zap.String("queue_url", c.queueURL))
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopping")
			return
		}
		if err := c.Poll(ctx, handle); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Poll runs one receive call and processes what it got.
func (c *Consumer) Poll(ctx context.Context, handle Handler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.config.BatchSize,
		WaitTimeSeconds:     c.config.WaitSeconds,
		VisibilityTimeout:   60,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	metrics.SetSQSMessagesInFlight(len(result.Messages))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, m := range result.Messages {
		c.process(ctx, m, handle)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, m types.Message, handle Handler) {
	receipt := aws.ToString(m.ReceiptHandle)
	msgID := aws.ToString(m.MessageId)

	var env Envelope
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &env); err != nil {
		c.logger.Error("dropping malformed queue message",
			zap.String("message_id", msgID),
			zap.Error(err),
		)
		c.delete(ctx, receipt, msgID)
		return
	}

	err := handle(ctx, env.Request)
	if err == nil {
		c.delete(ctx, receipt, msgID)
		return
	}

	receives := receiveCount(m)
	c.logger.Error("failed to deliver queued notification",
		zap.String("message_id", msgID),
		zap.Int("receive_count", receives),
		zap.Error(err),
	)

	if receives >= c.config.MaxReceives {
		c.logger.Warn("giving up on queued notification",
			zap.String("message_id", msgID),
			zap.String("type", env.Request.Message.Type),
		)
		c.delete(ctx, receipt, msgID)
		return
	}

	_, err = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(RetryDelay(receives) / time.Second),
	})
	if err != nil {
		c.logger.Warn("failed to delay retry", zap.String("message_id", msgID), zap.Error(err))
	}
}

func (c *Consumer) delete(ctx context.Context, receipt, msgID string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		c.logger.Error("sqs delete failed", zap.String("message_id", msgID), zap.Error(err))
	}
}

// RetryDelay is how long a failed message stays hidden before redelivery.
func RetryDelay(receives int) time.Duration {
	delays := []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
	}

	idx := receives - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

func receiveCount(m types.Message) int {
	n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 1
	}
	return n
}
