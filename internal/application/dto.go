package application

import (
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
)

// CreateBookingRequest holds the data needed to create a new booking.
type CreateBookingRequest struct {
	SitterID         uuid.UUID `json:"sitter_id" binding:"required"`
	PetID            uuid.UUID `json:"pet_id" binding:"required"`
	ServiceType      string    `json:"service_type" binding:"required"`
	StartTime        time.Time `json:"start_time" binding:"required"`
	EndTime          time.Time `json:"end_time" binding:"required"`
	TotalPriceCents  int64     `json:"total_price_cents"`
	Currency         string    `json:"currency"`
	PaymentMethodRef string    `json:"payment_method_ref"`
	Notes            string    `json:"notes"`
}

// UpdateStatusRequest asks for a status transition.
type UpdateStatusRequest struct {
	Status             string  `json:"status" binding:"required"`
	ExpectedStatus     *string `json:"expected_status"`
	Reason             string  `json:"reason"`
	PayoutRecipientRef string  `json:"payout_recipient_ref"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID                    uuid.UUID  `json:"id"`
	BookingNumber         string     `json:"booking_number"`
	OwnerID               uuid.UUID  `json:"owner_id"`
	SitterID              uuid.UUID  `json:"sitter_id"`
	PetID                 uuid.UUID  `json:"pet_id"`
	ServiceType           string     `json:"service_type"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               time.Time  `json:"end_time"`
	Status                string     `json:"status"`
	PaymentStatus         string     `json:"payment_status"`
	TotalPriceCents       int64      `json:"total_price_cents"`
	CommissionFeeCents    int64      `json:"commission_fee_cents"`
	PayoutCents           int64      `json:"payout_cents"`
	Currency              string     `json:"currency"`
	ChargeRef             string     `json:"charge_ref,omitempty"`
	RefundRef             string     `json:"refund_ref,omitempty"`
	PayoutRef             string     `json:"payout_ref,omitempty"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CompletionConfirmedAt *time.Time `json:"completion_confirmed_at,omitempty"`
	EligibleForReleaseAt  *time.Time `json:"eligible_for_release_at,omitempty"`
	PaymentReleasedAt     *time.Time `json:"payment_released_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason    string     `json:"cancellation_reason,omitempty"`
	CancelledBy           *uuid.UUID `json:"cancelled_by,omitempty"`
	DisputedAt            *time.Time `json:"disputed_at,omitempty"`
	DisputeReason         string     `json:"dispute_reason,omitempty"`
	NeedsReview           bool       `json:"needs_review"`
	ReviewNote            string     `json:"review_note,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ReleaseResult is returned by ReleasePayment.
type ReleaseResult struct {
	Booking         BookingDTO `json:"booking"`
	AlreadyReleased bool       `json:"already_released"`
}

// RefundResult is returned by RefundPayment.
type RefundResult struct {
	Booking         BookingDTO `json:"booking"`
	AlreadyRefunded bool       `json:"already_refunded"`
}

// BookingStatsDTO holds booking statistics for the admin dashboard.
type BookingStatsDTO struct {
	TotalBookings int64            `json:"total_bookings"`
	ByStatus      map[string]int64 `json:"by_status"`
}

// Resolution is an admin's decision on a disputed booking.
type Resolution string

const (
	ResolveRelease Resolution = "release"
	ResolveRefund  Resolution = "refund"
)

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	return BookingDTO{
		ID:                    bk.ID(),
		BookingNumber:         bk.BookingNumber(),
		OwnerID:               bk.OwnerID(),
		SitterID:              bk.SitterID(),
		PetID:                 bk.PetID(),
		ServiceType:           string(bk.ServiceType()),
		StartTime:             bk.StartTime(),
		EndTime:               bk.EndTime(),
		Status:                string(bk.Status()),
		PaymentStatus:         string(bk.PaymentStatus()),
		TotalPriceCents:       bk.TotalPriceCents(),
		CommissionFeeCents:    bk.CommissionFeeCents(),
		PayoutCents:           bk.PayoutCents(),
		Currency:              bk.Currency(),
		ChargeRef:             bk.ChargeRef(),
		RefundRef:             bk.RefundRef(),
		PayoutRef:             bk.PayoutRef(),
		ConfirmedAt:           bk.ConfirmedAt(),
		StartedAt:             bk.StartedAt(),
		CompletedAt:           bk.CompletedAt(),
		CompletionConfirmedAt: bk.CompletionConfirmedAt(),
		EligibleForReleaseAt:  bk.EligibleForReleaseAt(),
		PaymentReleasedAt:     bk.PaymentReleasedAt(),
		RefundedAt:            bk.RefundedAt(),
		CancelledAt:           bk.CancelledAt(),
		CancellationReason:    bk.CancellationReason(),
		CancelledBy:           bk.CancelledBy(),
		DisputedAt:            bk.DisputedAt(),
		DisputeReason:         bk.DisputeReason(),
		NeedsReview:           bk.NeedsReview(),
		ReviewNote:            bk.ReviewNote(),
		Notes:                 bk.Notes(),
		Version:               bk.Version(),
		CreatedAt:             bk.CreatedAt(),
		UpdatedAt:             bk.UpdatedAt(),
	}
}

func toBookingDTOs(bookings []*bookingDomain.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos
}
