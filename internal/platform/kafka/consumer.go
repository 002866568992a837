package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes a single message. A returned error causes the
// message to be retried in place before its offset is committed.
type MessageHandler func(ctx context.Context, msg kafkago.Message) error

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	reader      *kafkago.Reader
	logger      *zap.Logger
	retryDelay  time.Duration
	maxAttempts int
}

// NewConsumer creates a Consumer for topic in the given group.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafkago.FirstOffset,
		}),
		logger:      logger.With(zap.String("topic", topic), zap.String("group", groupID)),
		retryDelay:  time.Second,
		maxAttempts: 5,
	}
}

// Consume fetches messages until ctx is cancelled. Offsets are committed
// after the handler succeeds or its attempts are exhausted.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handleWithRetry(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("dropping message after retries",
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, msg kafkago.Message) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		c.logger.Warn("message handler failed",
			zap.Int("attempt", attempt),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	return err
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
