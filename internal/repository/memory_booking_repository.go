package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// MemoryBookingRepository keeps bookings in process memory. It applies the
// same optimistic-locking rule as the GORM repository.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]bookingDomain.Snapshot
	// writes counts successful Save and Update calls
	writes int
}

// NewMemoryBookingRepository creates an empty MemoryBookingRepository.
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{bookings: make(map[uuid.UUID]bookingDomain.Snapshot)}
}

// FindByID implements BookingRepository.
func (r *MemoryBookingRepository) FindByID(_ context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("Booking", id.String())
	}
	return bookingDomain.ReconstructBooking(s), nil
}

// FindByOwnerID implements BookingRepository.
func (r *MemoryBookingRepository) FindByOwnerID(_ context.Context, ownerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool { return s.OwnerID == ownerID })
	return pageOf(list, page, limit)
}

// FindBySitterID implements BookingRepository.
func (r *MemoryBookingRepository) FindBySitterID(_ context.Context, sitterID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool { return s.SitterID == sitterID })
	return pageOf(list, page, limit)
}

// ListAll implements BookingRepository.
func (r *MemoryBookingRepository) ListAll(_ context.Context, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	list := r.filter(func(bookingDomain.Snapshot) bool { return true })
	return pageOf(list, page, limit)
}

// FindFlaggedForReview implements BookingRepository.
func (r *MemoryBookingRepository) FindFlaggedForReview(_ context.Context, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool { return s.NeedsReview })
	return pageOf(list, page, limit)
}

// CountByStatus implements BookingRepository.
func (r *MemoryBookingRepository) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int64)
	for _, s := range r.bookings {
		counts[string(s.Status)]++
	}
	return counts, nil
}

// FindDueForRelease implements BookingRepository.
func (r *MemoryBookingRepository) FindDueForRelease(_ context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool {
		return s.Status == bookingDomain.StatusCompleted &&
			s.PaymentStatus == bookingDomain.PaymentHeld &&
			s.CompletionConfirmedAt != nil &&
			s.PaymentReleasedAt == nil &&
			s.EligibleForReleaseAt != nil && !s.EligibleForReleaseAt.After(now) &&
			s.DisputedAt == nil && !s.NeedsReview
	})
	return head(list, limit), nil
}

// FindStalePending implements BookingRepository.
func (r *MemoryBookingRepository) FindStalePending(_ context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool {
		return s.PaymentStatus == bookingDomain.PaymentPending &&
			s.CaptureRequestedAt != nil && !s.CaptureRequestedAt.After(cutoff)
	})
	return head(list, limit), nil
}

// FindAwaitingConfirmation implements BookingRepository.
func (r *MemoryBookingRepository) FindAwaitingConfirmation(_ context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool {
		return s.Status == bookingDomain.StatusCompleted &&
			s.PaymentStatus == bookingDomain.PaymentHeld &&
			s.CompletionConfirmedAt == nil &&
			s.CompletedAt != nil && !s.CompletedAt.After(cutoff)
	})
	return head(list, limit), nil
}

// FindDueToStart implements BookingRepository.
func (r *MemoryBookingRepository) FindDueToStart(_ context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error) {
	list := r.filter(func(s bookingDomain.Snapshot) bool {
		return s.Status == bookingDomain.StatusConfirmed &&
			s.PaymentStatus == bookingDomain.PaymentHeld &&
			!s.StartTime.After(now)
	})
	return head(list, limit), nil
}

// Save implements BookingRepository.
func (r *MemoryBookingRepository) Save(_ context.Context, bk *bookingDomain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[bk.ID()]; ok {
		return domain.NewConflictError("booking already exists")
	}
	r.bookings[bk.ID()] = bk.Snapshot()
	r.writes++
	return nil
}

// Update implements BookingRepository.
func (r *MemoryBookingRepository) Update(_ context.Context, bk *bookingDomain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.bookings[bk.ID()]
	if !ok {
		return domain.NewNotFoundError("Booking", bk.ID().String())
	}
	if current.Version != bk.Version()-1 {
		return domain.NewConflictError("booking was modified by another transaction")
	}
	r.bookings[bk.ID()] = bk.Snapshot()
	r.writes++
	return nil
}

// Writes returns the number of successful writes.
func (r *MemoryBookingRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

func (r *MemoryBookingRepository) filter(keep func(bookingDomain.Snapshot) bool) []*bookingDomain.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*bookingDomain.Booking
	for _, s := range r.bookings {
		if keep(s) {
			out = append(out, bookingDomain.ReconstructBooking(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].ID().String() < out[j].ID().String()
		}
		return out[i].CreatedAt().After(out[j].CreatedAt())
	})
	return out
}

func pageOf(list []*bookingDomain.Booking, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	total := int64(len(list))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return []*bookingDomain.Booking{}, total, nil
	}
	start := (page - 1) * limit
	if start >= len(list) {
		return []*bookingDomain.Booking{}, total, nil
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], total, nil
}

func head(list []*bookingDomain.Booking, limit int) []*bookingDomain.Booking {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
