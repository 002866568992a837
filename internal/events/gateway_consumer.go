package events

import (
	"context"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/kafka"
)

// CaptureEvent is the payload of the gateway capture events.
type CaptureEvent struct {
	BookingID      uuid.UUID `json:"booking_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ChargeRef      string    `json:"charge_ref"`
	Reason         string    `json:"reason,omitempty"`
}

// CaptureResultApplier records capture outcomes on bookings.
type CaptureResultApplier interface {
	ApplyCaptureResult(ctx context.Context, id uuid.UUID, idempotencyKey string, res gateway.Result) error
}

// GatewayEventConsumer resolves pending captures from relayed gateway webhooks.
type GatewayEventConsumer struct {
	consumer *kafka.Consumer
	applier  CaptureResultApplier
	logger   *zap.Logger
}

// NewGatewayEventConsumer creates a new GatewayEventConsumer.
func NewGatewayEventConsumer(
	brokers []string,
	groupID string,
	applier CaptureResultApplier,
	logger *zap.Logger,
) *GatewayEventConsumer {
	return &GatewayEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, TopicGatewayEvents, logger),
		applier:  applier,
		logger:   logger,
	}
}

// Start begins consuming gateway events. This blocks until the context is cancelled.
func (c *GatewayEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *GatewayEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *GatewayEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	ce, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from gateway topic",
			zap.Error(err),
			zap.ByteString("raw", msg.Value),
		)
		return nil // malformed messages are not retried
	}

	var res gateway.Result
	switch ce.Type {
	case GatewayCaptureSucceeded:
		res.Outcome = gateway.OutcomeSucceeded
	case GatewayCaptureFailed:
		res.Outcome = gateway.OutcomeFailed
	default:
		c.logger.Debug("ignoring unhandled gateway event type", zap.String("type", ce.Type))
		return nil
	}

	var evt CaptureEvent
	if err := ce.ParseData(&evt); err != nil || evt.BookingID == uuid.Nil || evt.IdempotencyKey == "" {
		c.logger.Error("invalid capture event data",
			zap.String("event_id", ce.ID),
			zap.Error(err),
		)
		return nil
	}
	res.Ref = evt.ChargeRef
	res.Reason = evt.Reason

	err = c.applier.ApplyCaptureResult(ctx, evt.BookingID, evt.IdempotencyKey, res)
	switch {
	case err == nil:
		c.logger.Info("applied relayed capture result",
			zap.String("booking_id", evt.BookingID.String()),
			zap.String("outcome", string(res.Outcome)),
		)
		return nil
	case retryable(err):
		return err
	default:
		c.logger.Warn("discarding capture event",
			zap.String("booking_id", evt.BookingID.String()),
			zap.Error(err),
		)
		return nil
	}
}

// retryable reports whether a failed apply may succeed on redelivery.
func retryable(err error) bool {
	if domain.IsRetryable(err) {
		return true
	}
	switch domain.CodeOf(err) {
	case domain.CodeConflict, domain.CodeInternal:
		return true
	}
	return false
}
