package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/kafka"
)

// Publisher writes a CloudEvent to a topic.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// KafkaNotifier publishes booking events to Kafka, keyed by booking id so
// events of one booking stay ordered.
type KafkaNotifier struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(publisher Publisher, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, logger: logger}
}

// BookingTransitioned implements application.Notifier.
func (n *KafkaNotifier) BookingTransitioned(ctx context.Context, evt application.TransitionEvent) error {
	return n.publish(ctx, BookingTransitioned, evt.BookingID.String(), evt)
}

// ConfirmationReminder implements application.Notifier.
func (n *KafkaNotifier) ConfirmationReminder(ctx context.Context, evt application.ReminderEvent) error {
	return n.publish(ctx, BookingConfirmationReminder, evt.BookingID.String(), evt)
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType, subject string, data interface{}) error {
	ce, err := kafka.NewCloudEvent(Source, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	ce.Subject = subject
	if err := n.publisher.PublishEvent(ctx, TopicBookingEvents, ce); err != nil {
		return err
	}
	n.logger.Debug("booking event published",
		zap.String("type", eventType),
		zap.String("booking_id", subject),
	)
	return nil
}
