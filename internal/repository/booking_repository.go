package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BookingNumber         string     `gorm:"uniqueIndex;not null;size:20"`
	OwnerID               uuid.UUID  `gorm:"type:uuid;index;not null"`
	SitterID              uuid.UUID  `gorm:"type:uuid;index;not null"`
	PetID                 uuid.UUID  `gorm:"type:uuid;not null"`
	ServiceType           string     `gorm:"not null;size:20"`
	StartTime             time.Time  `gorm:"not null"`
	EndTime               time.Time  `gorm:"not null"`
	TotalPriceCents       int64      `gorm:"not null"`
	CommissionFeeCents    int64      `gorm:"not null;default:0"`
	Currency              string     `gorm:"not null;size:3;default:'MYR'"`
	Status                string     `gorm:"not null;size:20;index"`
	PaymentStatus         string     `gorm:"not null;size:20;index"`
	PaymentMethodRef      string     `gorm:"size:100"`
	PayoutRecipientRef    string     `gorm:"size:100"`
	ChargeRef             string     `gorm:"size:100"`
	RefundRef             string     `gorm:"size:100"`
	PayoutRef             string     `gorm:"size:100"`
	CaptureAttempt        int        `gorm:"not null;default:0"`
	RefundAttempt         int        `gorm:"not null;default:0"`
	PayoutAttempt         int        `gorm:"not null;default:0"`
	ConfirmedAt           *time.Time `gorm:""`
	StartedAt             *time.Time `gorm:""`
	CompletedAt           *time.Time `gorm:""`
	CompletionConfirmedAt *time.Time `gorm:""`
	EligibleForReleaseAt  *time.Time `gorm:"index"`
	PaymentReleasedAt     *time.Time `gorm:""`
	CaptureRequestedAt    *time.Time `gorm:""`
	HeldAt                *time.Time `gorm:""`
	RefundedAt            *time.Time `gorm:""`
	CancelledAt           *time.Time `gorm:""`
	CancellationReason    string     `gorm:"size:500"`
	CancelledBy           *uuid.UUID `gorm:"type:uuid"`
	DisputedAt            *time.Time `gorm:""`
	DisputeReason         string     `gorm:"size:1000"`
	NeedsReview           bool       `gorm:"not null;default:false;index"`
	ReviewNote            string     `gorm:"size:1000"`
	ReleaseFailures       int        `gorm:"not null;default:0"`
	ConfirmationNudgedAt  *time.Time `gorm:""`
	Notes                 string     `gorm:"size:1000"`
	Version               int64      `gorm:"not null;default:1"`
	CreatedAt             time.Time  `gorm:"not null"`
	UpdatedAt             time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByOwnerID retrieves bookings for a specific owner with pagination.
func (r *GormBookingRepository) FindByOwnerID(ctx context.Context, ownerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "owner bookings", page, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ?", ownerID)
	})
}

// FindBySitterID retrieves bookings for a specific sitter with pagination.
func (r *GormBookingRepository) FindBySitterID(ctx context.Context, sitterID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "sitter bookings", page, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("sitter_id = ?", sitterID)
	})
}

// ListAll retrieves all bookings with pagination (admin).
func (r *GormBookingRepository) ListAll(ctx context.Context, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "bookings", page, limit, func(db *gorm.DB) *gorm.DB { return db })
}

// FindFlaggedForReview retrieves bookings awaiting operator review.
func (r *GormBookingRepository) FindFlaggedForReview(ctx context.Context, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "flagged bookings", page, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("needs_review = ?", true)
	})
}

// CountByStatus returns booking counts grouped by status (admin).
func (r *GormBookingRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// FindDueForRelease returns held bookings whose hold window has ended.
func (r *GormBookingRepository) FindDueForRelease(ctx context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error) {
	return r.scan(ctx, "due releases", limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND payment_status = ?", string(bookingDomain.StatusCompleted), string(bookingDomain.PaymentHeld)).
			Where("completion_confirmed_at IS NOT NULL AND payment_released_at IS NULL").
			Where("eligible_for_release_at <= ?", now).
			Where("disputed_at IS NULL AND needs_review = ?", false).
			Order("eligible_for_release_at ASC")
	})
}

// FindStalePending returns captures pending since before cutoff.
func (r *GormBookingRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error) {
	return r.scan(ctx, "stale captures", limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("payment_status = ? AND capture_requested_at <= ?", string(bookingDomain.PaymentPending), cutoff).
			Order("capture_requested_at ASC")
	})
}

// FindAwaitingConfirmation returns completed bookings the owner has not confirmed.
func (r *GormBookingRepository) FindAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error) {
	return r.scan(ctx, "unconfirmed completions", limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND payment_status = ?", string(bookingDomain.StatusCompleted), string(bookingDomain.PaymentHeld)).
			Where("completion_confirmed_at IS NULL AND completed_at <= ?", cutoff).
			Order("completed_at ASC")
	})
}

// FindDueToStart returns confirmed, paid bookings whose start time has passed.
func (r *GormBookingRepository) FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error) {
	return r.scan(ctx, "due starts", limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND payment_status = ? AND start_time <= ?",
			string(bookingDomain.StatusConfirmed), string(bookingDomain.PaymentHeld), now).
			Order("start_time ASC")
	})
}

// Save persists a new booking.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// Update persists changes to an existing booking with optimistic locking.
// Status and payment fields are written in a single row update.
func (r *GormBookingRepository) Update(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)

	// IncrementVersion was called, so the stored row must carry version - 1
	expectedVersion := bk.Version() - 1

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current BookingModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "version").
			Where("id = ?", model.ID).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewNotFoundError("Booking", model.ID.String())
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		if current.Version != expectedVersion {
			return domain.NewConflictError("booking was modified by another transaction")
		}

		result := tx.Model(&BookingModel{}).
			Where("id = ? AND version = ?", model.ID, expectedVersion).
			Updates(updateColumns(model))
		if result.Error != nil {
			return fmt.Errorf("failed to update booking: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.NewConflictError("booking was modified by another transaction")
		}
		return nil
	})
}

func (r *GormBookingRepository) paginate(
	ctx context.Context,
	what string,
	page, limit int,
	scope func(*gorm.DB) *gorm.DB,
) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := scope(r.db.WithContext(ctx).Model(&BookingModel{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", what, err)
	}

	var models []BookingModel
	offset := (page - 1) * limit
	if err := scope(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find %s: %w", what, err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *GormBookingRepository) scan(
	ctx context.Context,
	what string,
	limit int,
	scope func(*gorm.DB) *gorm.DB,
) ([]*bookingDomain.Booking, error) {
	var models []BookingModel
	if err := scope(r.db.WithContext(ctx)).Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", what, err)
	}
	return toDomainBookings(models)
}

// --- Conversion Helpers ---

func updateColumns(m *BookingModel) map[string]interface{} {
	return map[string]interface{}{
		"commission_fee_cents":    m.CommissionFeeCents,
		"status":                  m.Status,
		"payment_status":          m.PaymentStatus,
		"payout_recipient_ref":    m.PayoutRecipientRef,
		"charge_ref":              m.ChargeRef,
		"refund_ref":              m.RefundRef,
		"payout_ref":              m.PayoutRef,
		"capture_attempt":         m.CaptureAttempt,
		"refund_attempt":          m.RefundAttempt,
		"payout_attempt":          m.PayoutAttempt,
		"confirmed_at":            m.ConfirmedAt,
		"started_at":              m.StartedAt,
		"completed_at":            m.CompletedAt,
		"completion_confirmed_at": m.CompletionConfirmedAt,
		"eligible_for_release_at": m.EligibleForReleaseAt,
		"payment_released_at":     m.PaymentReleasedAt,
		"capture_requested_at":    m.CaptureRequestedAt,
		"held_at":                 m.HeldAt,
		"refunded_at":             m.RefundedAt,
		"cancelled_at":            m.CancelledAt,
		"cancellation_reason":     m.CancellationReason,
		"cancelled_by":            m.CancelledBy,
		"disputed_at":             m.DisputedAt,
		"dispute_reason":          m.DisputeReason,
		"needs_review":            m.NeedsReview,
		"review_note":             m.ReviewNote,
		"release_failures":        m.ReleaseFailures,
		"confirmation_nudged_at":  m.ConfirmationNudgedAt,
		"version":                 m.Version,
		"updated_at":              m.UpdatedAt,
	}
}

func toBookingModel(bk *bookingDomain.Booking) *BookingModel {
	s := bk.Snapshot()
	return &BookingModel{
		ID:                    s.ID,
		BookingNumber:         s.BookingNumber,
		OwnerID:               s.OwnerID,
		SitterID:              s.SitterID,
		PetID:                 s.PetID,
		ServiceType:           string(s.ServiceType),
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		TotalPriceCents:       s.TotalPriceCents,
		CommissionFeeCents:    s.CommissionFeeCents,
		Currency:              s.Currency,
		Status:                string(s.Status),
		PaymentStatus:         string(s.PaymentStatus),
		PaymentMethodRef:      s.PaymentMethodRef,
		PayoutRecipientRef:    s.PayoutRecipientRef,
		ChargeRef:             s.ChargeRef,
		RefundRef:             s.RefundRef,
		PayoutRef:             s.PayoutRef,
		CaptureAttempt:        s.CaptureAttempt,
		RefundAttempt:         s.RefundAttempt,
		PayoutAttempt:         s.PayoutAttempt,
		ConfirmedAt:           s.ConfirmedAt,
		StartedAt:             s.StartedAt,
		CompletedAt:           s.CompletedAt,
		CompletionConfirmedAt: s.CompletionConfirmedAt,
		EligibleForReleaseAt:  s.EligibleForReleaseAt,
		PaymentReleasedAt:     s.PaymentReleasedAt,
		CaptureRequestedAt:    s.CaptureRequestedAt,
		HeldAt:                s.HeldAt,
		RefundedAt:            s.RefundedAt,
		CancelledAt:           s.CancelledAt,
		CancellationReason:    s.CancellationReason,
		CancelledBy:           s.CancelledBy,
		DisputedAt:            s.DisputedAt,
		DisputeReason:         s.DisputeReason,
		NeedsReview:           s.NeedsReview,
		ReviewNote:            s.ReviewNote,
		ReleaseFailures:       s.ReleaseFailures,
		ConfirmationNudgedAt:  s.ConfirmationNudgedAt,
		Notes:                 s.Notes,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}
	paymentStatus, err := bookingDomain.ParsePaymentStatus(m.PaymentStatus)
	if err != nil {
		return nil, err
	}

	return bookingDomain.ReconstructBooking(bookingDomain.Snapshot{
		ID:                    m.ID,
		BookingNumber:         m.BookingNumber,
		OwnerID:               m.OwnerID,
		SitterID:              m.SitterID,
		PetID:                 m.PetID,
		ServiceType:           bookingDomain.ServiceType(m.ServiceType),
		StartTime:             m.StartTime,
		EndTime:               m.EndTime,
		TotalPriceCents:       m.TotalPriceCents,
		CommissionFeeCents:    m.CommissionFeeCents,
		Currency:              m.Currency,
		Status:                status,
		PaymentStatus:         paymentStatus,
		PaymentMethodRef:      m.PaymentMethodRef,
		PayoutRecipientRef:    m.PayoutRecipientRef,
		ChargeRef:             m.ChargeRef,
		RefundRef:             m.RefundRef,
		PayoutRef:             m.PayoutRef,
		CaptureAttempt:        m.CaptureAttempt,
		RefundAttempt:         m.RefundAttempt,
		PayoutAttempt:         m.PayoutAttempt,
		ConfirmedAt:           m.ConfirmedAt,
		StartedAt:             m.StartedAt,
		CompletedAt:           m.CompletedAt,
		CompletionConfirmedAt: m.CompletionConfirmedAt,
		EligibleForReleaseAt:  m.EligibleForReleaseAt,
		PaymentReleasedAt:     m.PaymentReleasedAt,
		CaptureRequestedAt:    m.CaptureRequestedAt,
		HeldAt:                m.HeldAt,
		RefundedAt:            m.RefundedAt,
		CancelledAt:           m.CancelledAt,
		CancellationReason:    m.CancellationReason,
		CancelledBy:           m.CancelledBy,
		DisputedAt:            m.DisputedAt,
		DisputeReason:         m.DisputeReason,
		NeedsReview:           m.NeedsReview,
		ReviewNote:            m.ReviewNote,
		ReleaseFailures:       m.ReleaseFailures,
		ConfirmationNudgedAt:  m.ConfirmationNudgedAt,
		Notes:                 m.Notes,
		Version:               m.Version,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}), nil
}

func toDomainBookings(models []BookingModel) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}
