package booking

import (
	"fmt"
	"slices"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// BookingStatus is the lifecycle axis of a booking. The escrow axis is
// PaymentStatus.
type BookingStatus string

const (
	StatusRequested  BookingStatus = "requested"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// statusGraph lists the lifecycle edges. completed -> completed covers the
// transitions that change only sub-state (completion confirmation, disputes).
var statusGraph = map[BookingStatus][]BookingStatus{
	StatusRequested:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusCompleted, StatusCancelled},
	StatusCancelled:  nil,
}

// IsValid reports whether s is a known status.
func (s BookingStatus) IsValid() bool {
	_, ok := statusGraph[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle graph has an edge s -> target.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	return slices.Contains(statusGraph[s], target)
}

// IsTerminal is true for cancelled and for unknown statuses.
func (s BookingStatus) IsTerminal() bool {
	return len(statusGraph[s]) == 0
}

func (s BookingStatus) String() string { return string(s) }

// ParseBookingStatus validates a wire value.
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", domain.NewValidationError(fmt.Sprintf("invalid booking status: %s", s))
	}
	return status, nil
}
