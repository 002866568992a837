package booking

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is the flat persisted form of a Booking.
type Snapshot struct {
	ID                    uuid.UUID
	BookingNumber         string
	OwnerID               uuid.UUID
	SitterID              uuid.UUID
	PetID                 uuid.UUID
	ServiceType           ServiceType
	StartTime             time.Time
	EndTime               time.Time
	TotalPriceCents       int64
	CommissionFeeCents    int64
	Currency              string
	Status                BookingStatus
	PaymentStatus         PaymentStatus
	PaymentMethodRef      string
	PayoutRecipientRef    string
	ChargeRef             string
	RefundRef             string
	PayoutRef             string
	CaptureAttempt        int
	RefundAttempt         int
	PayoutAttempt         int
	ConfirmedAt           *time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	CompletionConfirmedAt *time.Time
	EligibleForReleaseAt  *time.Time
	PaymentReleasedAt     *time.Time
	CaptureRequestedAt    *time.Time
	HeldAt                *time.Time
	RefundedAt            *time.Time
	CancelledAt           *time.Time
	CancellationReason    string
	CancelledBy           *uuid.UUID
	DisputedAt            *time.Time
	DisputeReason         string
	NeedsReview           bool
	ReviewNote            string
	ReleaseFailures       int
	ConfirmationNudgedAt  *time.Time
	Notes                 string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ReconstructBooking rebuilds a Booking aggregate from persistence (no validation).
func ReconstructBooking(s Snapshot) *Booking {
	return &Booking{
		id:                    s.ID,
		bookingNumber:         s.BookingNumber,
		ownerID:               s.OwnerID,
		sitterID:              s.SitterID,
		petID:                 s.PetID,
		serviceType:           s.ServiceType,
		startTime:             s.StartTime,
		endTime:               s.EndTime,
		totalPriceCents:       s.TotalPriceCents,
		commissionFeeCents:    s.CommissionFeeCents,
		currency:              s.Currency,
		status:                s.Status,
		paymentStatus:         s.PaymentStatus,
		paymentMethodRef:      s.PaymentMethodRef,
		payoutRecipientRef:    s.PayoutRecipientRef,
		chargeRef:             s.ChargeRef,
		refundRef:             s.RefundRef,
		payoutRef:             s.PayoutRef,
		captureAttempt:        s.CaptureAttempt,
		refundAttempt:         s.RefundAttempt,
		payoutAttempt:         s.PayoutAttempt,
		confirmedAt:           s.ConfirmedAt,
		startedAt:             s.StartedAt,
		completedAt:           s.CompletedAt,
		completionConfirmedAt: s.CompletionConfirmedAt,
		eligibleForReleaseAt:  s.EligibleForReleaseAt,
		paymentReleasedAt:     s.PaymentReleasedAt,
		captureRequestedAt:    s.CaptureRequestedAt,
		heldAt:                s.HeldAt,
		refundedAt:            s.RefundedAt,
		cancelledAt:           s.CancelledAt,
		cancellationReason:    s.CancellationReason,
		cancelledBy:           s.CancelledBy,
		disputedAt:            s.DisputedAt,
		disputeReason:         s.DisputeReason,
		needsReview:           s.NeedsReview,
		reviewNote:            s.ReviewNote,
		releaseFailures:       s.ReleaseFailures,
		confirmationNudgedAt:  s.ConfirmationNudgedAt,
		notes:                 s.Notes,
		version:               s.Version,
		createdAt:             s.CreatedAt,
		updatedAt:             s.UpdatedAt,
	}
}

// Snapshot returns the flat persisted form of the booking.
func (b *Booking) Snapshot() Snapshot {
	return Snapshot{
		ID:                    b.id,
		BookingNumber:         b.bookingNumber,
		OwnerID:               b.ownerID,
		SitterID:              b.sitterID,
		PetID:                 b.petID,
		ServiceType:           b.serviceType,
		StartTime:             b.startTime,
		EndTime:               b.endTime,
		TotalPriceCents:       b.totalPriceCents,
		CommissionFeeCents:    b.commissionFeeCents,
		Currency:              b.currency,
		Status:                b.status,
		PaymentStatus:         b.paymentStatus,
		PaymentMethodRef:      b.paymentMethodRef,
		PayoutRecipientRef:    b.payoutRecipientRef,
		ChargeRef:             b.chargeRef,
		RefundRef:             b.refundRef,
		PayoutRef:             b.payoutRef,
		CaptureAttempt:        b.captureAttempt,
		RefundAttempt:         b.refundAttempt,
		PayoutAttempt:         b.payoutAttempt,
		ConfirmedAt:           b.confirmedAt,
		StartedAt:             b.startedAt,
		CompletedAt:           b.completedAt,
		CompletionConfirmedAt: b.completionConfirmedAt,
		EligibleForReleaseAt:  b.eligibleForReleaseAt,
		PaymentReleasedAt:     b.paymentReleasedAt,
		CaptureRequestedAt:    b.captureRequestedAt,
		HeldAt:                b.heldAt,
		RefundedAt:            b.refundedAt,
		CancelledAt:           b.cancelledAt,
		CancellationReason:    b.cancellationReason,
		CancelledBy:           b.cancelledBy,
		DisputedAt:            b.disputedAt,
		DisputeReason:         b.disputeReason,
		NeedsReview:           b.needsReview,
		ReviewNote:            b.reviewNote,
		ReleaseFailures:       b.releaseFailures,
		ConfirmationNudgedAt:  b.confirmationNudgedAt,
		Notes:                 b.notes,
		Version:               b.version,
		CreatedAt:             b.createdAt,
		UpdatedAt:             b.updatedAt,
	}
}

// Clone returns an independent copy of the booking.
func (b *Booking) Clone() *Booking {
	return ReconstructBooking(b.Snapshot())
}
