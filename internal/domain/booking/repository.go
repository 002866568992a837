package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByOwnerID retrieves bookings belonging to a specific owner with pagination.
	FindByOwnerID(ctx context.Context, ownerID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// FindBySitterID retrieves bookings assigned to a specific sitter with pagination.
	FindBySitterID(ctx context.Context, sitterID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// ListAll retrieves all bookings with pagination (admin).
	ListAll(ctx context.Context, page, limit int) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status (admin).
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// FindDueForRelease returns completed, confirmed, held, undisputed bookings
	// whose hold window ended at or before now.
	FindDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Booking, error)

	// FindStalePending returns bookings whose capture has been pending since before cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error)

	// FindAwaitingConfirmation returns completed, held, unconfirmed bookings
	// completed before cutoff.
	FindAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error)

	// FindDueToStart returns confirmed bookings with payment held whose start
	// time is at or before now.
	FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*Booking, error)

	// FindFlaggedForReview returns bookings awaiting operator review.
	FindFlaggedForReview(ctx context.Context, page, limit int) ([]*Booking, int64, error)

	// Save persists a new booking.
	Save(ctx context.Context, booking *Booking) error

	// Update persists changes to an existing booking with optimistic locking.
	// The booking's version must already be incremented; the write succeeds
	// only if the stored version is one less.
	Update(ctx context.Context, booking *Booking) error
}
