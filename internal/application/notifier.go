package application

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent describes one committed change of a booking.
type TransitionEvent struct {
	BookingID        uuid.UUID `json:"booking_id"`
	BookingNumber    string    `json:"booking_number"`
	OwnerID          uuid.UUID `json:"owner_id"`
	SitterID         uuid.UUID `json:"sitter_id"`
	Operation        string    `json:"operation"`
	OldStatus        string    `json:"old_status"`
	NewStatus        string    `json:"new_status"`
	OldPaymentStatus string    `json:"old_payment_status"`
	NewPaymentStatus string    `json:"new_payment_status"`
	Actor            string    `json:"actor"`
	ActorID          uuid.UUID `json:"actor_id,omitempty"`
	Version          int64     `json:"version"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// ReminderEvent asks the owner to confirm a completed booking.
type ReminderEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	OwnerID       uuid.UUID `json:"owner_id"`
	CompletedAt   time.Time `json:"completed_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier publishes booking events after commit. Failures never roll back
// the committed change.
type Notifier interface {
	BookingTransitioned(ctx context.Context, evt TransitionEvent) error
	ConfirmationReminder(ctx context.Context, evt ReminderEvent) error
}

// NopNotifier discards events.
type NopNotifier struct{}

// BookingTransitioned implements Notifier.
func (NopNotifier) BookingTransitioned(context.Context, TransitionEvent) error { return nil }

// ConfirmationReminder implements Notifier.
func (NopNotifier) ConfirmationReminder(context.Context, ReminderEvent) error { return nil }
