package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

const bookingNumberChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Booking is the aggregate root for a sitter booking and its escrow.
type Booking struct {
	id            uuid.UUID
	bookingNumber string
	ownerID       uuid.UUID
	sitterID      uuid.UUID
	petID         uuid.UUID
	serviceType   ServiceType
	startTime     time.Time
	endTime       time.Time

	totalPriceCents    int64
	commissionFeeCents int64
	currency           string

	status        BookingStatus
	paymentStatus PaymentStatus

	paymentMethodRef   string
	payoutRecipientRef string
	chargeRef          string
	refundRef          string
	payoutRef          string
	captureAttempt     int
	refundAttempt      int
	payoutAttempt      int

	confirmedAt           *time.Time
	startedAt             *time.Time
	completedAt           *time.Time
	completionConfirmedAt *time.Time
	eligibleForReleaseAt  *time.Time
	paymentReleasedAt     *time.Time
	captureRequestedAt    *time.Time
	heldAt                *time.Time
	refundedAt            *time.Time
	cancelledAt           *time.Time
	cancellationReason    string
	cancelledBy           *uuid.UUID

	disputedAt           *time.Time
	disputeReason        string
	needsReview          bool
	reviewNote           string
	releaseFailures      int
	confirmationNudgedAt *time.Time

	notes     string
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewBookingParams holds the inputs of a new booking request.
type NewBookingParams struct {
	OwnerID          uuid.UUID
	SitterID         uuid.UUID
	PetID            uuid.UUID
	ServiceType      ServiceType
	StartTime        time.Time
	EndTime          time.Time
	TotalPriceCents  int64
	Currency         string
	PaymentMethodRef string
	Notes            string
}

// generateBookingNumber creates a booking number in the format "SB-XXXXXX".
func generateBookingNumber() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bookingNumberChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking number: %w", err)
		}
		result[i] = bookingNumberChars[n.Int64()]
	}
	return "SB-" + string(result), nil
}

// NewBooking creates a booking in requested/none.
func NewBooking(p NewBookingParams, now time.Time) (*Booking, error) {
	if p.OwnerID == uuid.Nil {
		return nil, domain.NewValidationError("owner ID is required")
	}
	if p.SitterID == uuid.Nil {
		return nil, domain.NewValidationError("sitter ID is required")
	}
	if p.OwnerID == p.SitterID {
		return nil, domain.NewValidationError("owner and sitter must be different users")
	}
	if p.PetID == uuid.Nil {
		return nil, domain.NewValidationError("pet ID is required")
	}
	if !p.ServiceType.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid service type: %s", p.ServiceType))
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() || !p.EndTime.After(p.StartTime) {
		return nil, domain.NewValidationError("end time must be after start time")
	}
	if p.TotalPriceCents < 0 {
		return nil, domain.NewValidationError("total price must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = domain.CurrencyMYR
	}
	if len(currency) != 3 {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid currency: %s", p.Currency))
	}

	bookingNumber, err := generateBookingNumber()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Booking{
		id:               uuid.New(),
		bookingNumber:    bookingNumber,
		ownerID:          p.OwnerID,
		sitterID:         p.SitterID,
		petID:            p.PetID,
		serviceType:      p.ServiceType,
		startTime:        p.StartTime.UTC(),
		endTime:          p.EndTime.UTC(),
		totalPriceCents:  p.TotalPriceCents,
		currency:         currency,
		status:           StatusRequested,
		paymentStatus:    PaymentNone,
		paymentMethodRef: p.PaymentMethodRef,
		notes:            p.Notes,
		version:          1,
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// --- Getters ---

// ID returns the booking's unique identifier.
func (b *Booking) ID() uuid.UUID { return b.id }

// BookingNumber returns the human-readable booking number.
func (b *Booking) BookingNumber() string { return b.bookingNumber }

// OwnerID returns the pet owner's user ID.
func (b *Booking) OwnerID() uuid.UUID { return b.ownerID }

// SitterID returns the sitter's user ID.
func (b *Booking) SitterID() uuid.UUID { return b.sitterID }

// PetID returns the pet being cared for.
func (b *Booking) PetID() uuid.UUID { return b.petID }

// ServiceType returns the kind of service booked.
func (b *Booking) ServiceType() ServiceType { return b.serviceType }

// StartTime returns the service start.
func (b *Booking) StartTime() time.Time { return b.startTime }

// EndTime returns the service end.
func (b *Booking) EndTime() time.Time { return b.endTime }

// TotalPriceCents returns the price charged to the owner in minor units.
func (b *Booking) TotalPriceCents() int64 { return b.totalPriceCents }

// CommissionFeeCents returns the platform commission frozen at confirmation.
func (b *Booking) CommissionFeeCents() int64 { return b.commissionFeeCents }

// PayoutCents returns the amount paid to the sitter on release.
func (b *Booking) PayoutCents() int64 { return b.totalPriceCents - b.commissionFeeCents }

// Currency returns the currency code.
func (b *Booking) Currency() string { return b.currency }

// Status returns the lifecycle status.
func (b *Booking) Status() BookingStatus { return b.status }

// PaymentStatus returns the escrow status.
func (b *Booking) PaymentStatus() PaymentStatus { return b.paymentStatus }

// PaymentMethodRef returns the owner's gateway payment reference.
func (b *Booking) PaymentMethodRef() string { return b.paymentMethodRef }

// PayoutRecipientRef returns the sitter's gateway recipient reference.
func (b *Booking) PayoutRecipientRef() string { return b.payoutRecipientRef }

// ChargeRef returns the gateway charge reference once captured.
func (b *Booking) ChargeRef() string { return b.chargeRef }

// RefundRef returns the gateway refund reference.
func (b *Booking) RefundRef() string { return b.refundRef }

// PayoutRef returns the gateway transfer reference.
func (b *Booking) PayoutRef() string { return b.payoutRef }

// CaptureAttempt returns the current capture attempt number.
func (b *Booking) CaptureAttempt() int { return b.captureAttempt }

// ConfirmedAt returns when the sitter accepted.
func (b *Booking) ConfirmedAt() *time.Time { return b.confirmedAt }

// StartedAt returns when the service started.
func (b *Booking) StartedAt() *time.Time { return b.startedAt }

// CompletedAt returns when the sitter marked the service done.
func (b *Booking) CompletedAt() *time.Time { return b.completedAt }

// CompletionConfirmedAt returns when the owner confirmed completion.
func (b *Booking) CompletionConfirmedAt() *time.Time { return b.completionConfirmedAt }

// EligibleForReleaseAt returns when the hold window ends.
func (b *Booking) EligibleForReleaseAt() *time.Time { return b.eligibleForReleaseAt }

// PaymentReleasedAt returns when funds were paid out.
func (b *Booking) PaymentReleasedAt() *time.Time { return b.paymentReleasedAt }

// CaptureRequestedAt returns when the current capture attempt started.
func (b *Booking) CaptureRequestedAt() *time.Time { return b.captureRequestedAt }

// HeldAt returns when funds entered escrow.
func (b *Booking) HeldAt() *time.Time { return b.heldAt }

// RefundedAt returns when funds were returned to the owner.
func (b *Booking) RefundedAt() *time.Time { return b.refundedAt }

// CancelledAt returns the time the booking was cancelled.
func (b *Booking) CancelledAt() *time.Time { return b.cancelledAt }

// CancellationReason returns the cancellation reason.
func (b *Booking) CancellationReason() string { return b.cancellationReason }

// CancelledBy returns who cancelled the booking.
func (b *Booking) CancelledBy() *uuid.UUID { return b.cancelledBy }

// DisputedAt returns when the owner opened a dispute.
func (b *Booking) DisputedAt() *time.Time { return b.disputedAt }

// DisputeReason returns the owner's dispute reason.
func (b *Booking) DisputeReason() string { return b.disputeReason }

// IsDisputed reports whether a dispute is open.
func (b *Booking) IsDisputed() bool { return b.disputedAt != nil }

// NeedsReview reports whether an operator must look at the booking.
func (b *Booking) NeedsReview() bool { return b.needsReview }

// ReviewNote returns why the booking was flagged.
func (b *Booking) ReviewNote() string { return b.reviewNote }

// ReleaseFailures returns the number of exhausted automatic release runs.
func (b *Booking) ReleaseFailures() int { return b.releaseFailures }

// ConfirmationNudgedAt returns when the owner was reminded to confirm.
func (b *Booking) ConfirmationNudgedAt() *time.Time { return b.confirmationNudgedAt }

// Notes returns any additional notes for the booking.
func (b *Booking) Notes() string { return b.notes }

// Version returns the entity version for optimistic locking.
func (b *Booking) Version() int64 { return b.version }

// CreatedAt returns the creation timestamp.
func (b *Booking) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (b *Booking) UpdatedAt() time.Time { return b.updatedAt }

// --- Validation ---

// State returns the validator view of the booking.
func (b *Booking) State() State {
	return State{
		Status:               b.status,
		PaymentStatus:        b.paymentStatus,
		CompletionConfirmed:  b.completionConfirmedAt != nil,
		EligibleForReleaseAt: b.eligibleForReleaseAt,
		Disputed:             b.disputedAt != nil,
	}
}

// RoleOf resolves actor's role on this booking.
func (b *Booking) RoleOf(actor Actor) (Role, error) {
	switch actor.Kind {
	case ActorSystem:
		return RoleSystem, nil
	case ActorAdmin:
		return RoleAdmin, nil
	}
	switch actor.ID {
	case b.ownerID:
		return RoleOwner, nil
	case b.sitterID:
		return RoleSitter, nil
	}
	return "", domain.NewUnauthorizedError("actor is not a party to this booking")
}

// Check validates action for actor without changing the booking.
func (b *Booking) Check(action Action, actor Actor, force bool, now time.Time) (Rule, error) {
	role, err := b.RoleOf(actor)
	if err != nil {
		return Rule{}, err
	}
	return Validate(b.State(), Request{Action: action, Role: role, Force: force, Now: now})
}

// CheckReplay reports whether actor may repeat action on a booking that is
// already in the action's target status. Only a role the table lets take the
// action may replay it, and a cancellation only by whoever cancelled.
func (b *Booking) CheckReplay(action Action, actor Actor) error {
	role, err := b.RoleOf(actor)
	if err != nil {
		return err
	}
	allowed := false
	for _, r := range transitionTable {
		if r.Action == action && r.To == b.status && containsRole(r.Roles, role) {
			allowed = true
			break
		}
	}
	if action == ActionCancel && (b.cancelledBy == nil || *b.cancelledBy != actor.ID) {
		allowed = false
	}
	if !allowed {
		return domain.NewUnauthorizedError(
			fmt.Sprintf("%s may not %s a %s booking", role, action, b.status))
	}
	return nil
}

// --- Behavior ---

// Accept confirms the booking for the sitter and freezes the commission.
func (b *Booking) Accept(actor Actor, payoutRecipientRef string, policy CommissionPolicy, now time.Time) error {
	if _, err := b.Check(ActionAccept, actor, false, now); err != nil {
		return err
	}
	commission, err := policy.Commission(b.totalPriceCents)
	if err != nil {
		return err
	}
	if commission < 0 || commission > b.totalPriceCents {
		return domain.NewValidationError("commission must be between zero and the total price")
	}
	now = now.UTC()
	b.commissionFeeCents = commission
	if payoutRecipientRef != "" {
		b.payoutRecipientRef = payoutRecipientRef
	}
	b.status = StatusConfirmed
	b.confirmedAt = &now
	b.updatedAt = now
	return nil
}

// Start marks the service as in progress.
func (b *Booking) Start(actor Actor, now time.Time) error {
	if _, err := b.Check(ActionStart, actor, false, now); err != nil {
		return err
	}
	now = now.UTC()
	b.status = StatusInProgress
	b.startedAt = &now
	b.updatedAt = now
	return nil
}

// MarkCompleted records the sitter's completion.
func (b *Booking) MarkCompleted(actor Actor, now time.Time) error {
	if _, err := b.Check(ActionComplete, actor, false, now); err != nil {
		return err
	}
	now = now.UTC()
	b.status = StatusCompleted
	b.completedAt = &now
	b.updatedAt = now
	return nil
}

// ConfirmCompletion records the owner's confirmation and starts the hold window.
func (b *Booking) ConfirmCompletion(actor Actor, holdWindow time.Duration, now time.Time) error {
	if _, err := b.Check(ActionConfirmCompletion, actor, false, now); err != nil {
		return err
	}
	now = now.UTC()
	eligible := now.Add(holdWindow)
	b.completionConfirmedAt = &now
	b.eligibleForReleaseAt = &eligible
	b.updatedAt = now
	return nil
}

// Cancel cancels a booking with no funds in escrow.
func (b *Booking) Cancel(actor Actor, reason string, now time.Time) error {
	rule, err := b.Check(ActionCancel, actor, false, now)
	if err != nil {
		return err
	}
	if rule.RequiresRefund {
		return domain.NewWrongPaymentStateError("cancel without refund", string(b.paymentStatus))
	}
	b.applyCancel(actor, reason, now)
	return nil
}

// CheckCancelWithRefund validates a post-payment cancellation before the refund call.
func (b *Booking) CheckCancelWithRefund(actor Actor, reason string, now time.Time) error {
	rule, err := b.Check(ActionCancel, actor, false, now)
	if err != nil {
		return err
	}
	if !rule.RequiresRefund {
		return domain.NewWrongPaymentStateError("refund", string(b.paymentStatus))
	}
	if strings.TrimSpace(reason) == "" {
		return domain.NewValidationError("cancellation reason is required once payment is held")
	}
	return nil
}

// CancelWithRefund commits a cancellation whose refund already succeeded.
func (b *Booking) CancelWithRefund(actor Actor, reason, refundRef string, now time.Time) error {
	if err := b.CheckCancelWithRefund(actor, reason, now); err != nil {
		return err
	}
	now = now.UTC()
	b.paymentStatus = PaymentRefunded
	b.refundRef = refundRef
	b.refundedAt = &now
	b.needsReview = false
	b.applyCancel(actor, reason, now)
	return nil
}

func (b *Booking) applyCancel(actor Actor, reason string, now time.Time) {
	now = now.UTC()
	b.status = StatusCancelled
	b.cancellationReason = reason
	b.cancelledAt = &now
	if actor.ID != uuid.Nil {
		id := actor.ID
		b.cancelledBy = &id
	}
	b.updatedAt = now
}

// BeginCapture moves the payment to pending and returns the attempt number
// to key the gateway call with. A booking already pending keeps its attempt
// so an in-doubt capture is retried under the same key.
func (b *Booking) BeginCapture(actor Actor, now time.Time) (int, error) {
	if _, err := b.Check(ActionAuthorize, actor, false, now); err != nil {
		return 0, err
	}
	if b.paymentMethodRef == "" && b.totalPriceCents > 0 {
		return 0, domain.NewValidationError("booking has no payment method")
	}
	if b.paymentStatus == PaymentPending {
		return b.captureAttempt, nil
	}
	now = now.UTC()
	b.captureAttempt++
	b.paymentStatus = PaymentPending
	b.captureRequestedAt = &now
	b.updatedAt = now
	return b.captureAttempt, nil
}

// CaptureSucceeded moves a pending capture to held.
func (b *Booking) CaptureSucceeded(chargeRef string, now time.Time) error {
	if !b.paymentStatus.CanTransitionTo(PaymentHeld) {
		return domain.NewWrongPaymentStateError("capture", string(b.paymentStatus))
	}
	now = now.UTC()
	b.paymentStatus = PaymentHeld
	b.chargeRef = chargeRef
	b.heldAt = &now
	b.updatedAt = now
	return nil
}

// CaptureFailed returns a definitively failed capture to none.
func (b *Booking) CaptureFailed(now time.Time) error {
	if b.paymentStatus != PaymentPending {
		return domain.NewWrongPaymentStateError("capture failure", string(b.paymentStatus))
	}
	b.paymentStatus = PaymentNone
	b.captureRequestedAt = nil
	b.updatedAt = now.UTC()
	return nil
}

// CheckRelease validates a release request.
func (b *Booking) CheckRelease(actor Actor, force bool, now time.Time) error {
	_, err := b.Check(ActionRelease, actor, force, now)
	return err
}

// Release records a successful payout.
func (b *Booking) Release(actor Actor, force bool, payoutRef string, now time.Time) error {
	if err := b.CheckRelease(actor, force, now); err != nil {
		return err
	}
	now = now.UTC()
	b.paymentStatus = PaymentReleased
	b.payoutRef = payoutRef
	b.paymentReleasedAt = &now
	b.needsReview = false
	b.updatedAt = now
	return nil
}

// NextPayoutAttempt is the attempt number for the next payout call.
func (b *Booking) NextPayoutAttempt() int { return b.payoutAttempt + 1 }

// PayoutRejected advances the payout attempt after a definitive gateway rejection.
func (b *Booking) PayoutRejected(now time.Time) {
	b.payoutAttempt++
	b.updatedAt = now.UTC()
}

// NextRefundAttempt is the attempt number for the next refund call.
func (b *Booking) NextRefundAttempt() int { return b.refundAttempt + 1 }

// RefundRejected advances the refund attempt after a definitive gateway rejection.
func (b *Booking) RefundRejected(now time.Time) {
	b.refundAttempt++
	b.updatedAt = now.UTC()
}

// OpenDispute freezes release until an admin resolves the dispute.
func (b *Booking) OpenDispute(actor Actor, reason string, now time.Time) error {
	if _, err := b.Check(ActionDispute, actor, false, now); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.NewValidationError("dispute reason is required")
	}
	now = now.UTC()
	b.disputedAt = &now
	b.disputeReason = reason
	b.needsReview = true
	b.reviewNote = "dispute opened: " + reason
	b.updatedAt = now
	return nil
}

// RecordReleaseFailure counts an exhausted automatic release run and flags
// the booking once threshold is reached.
func (b *Booking) RecordReleaseFailure(note string, threshold int, now time.Time) {
	b.releaseFailures++
	if threshold > 0 && b.releaseFailures >= threshold {
		b.needsReview = true
		b.reviewNote = note
	}
	b.updatedAt = now.UTC()
}

// ClearReview removes the operator review flag.
func (b *Booking) ClearReview(now time.Time) {
	b.needsReview = false
	b.reviewNote = ""
	b.releaseFailures = 0
	b.updatedAt = now.UTC()
}

// MarkConfirmationNudged records that the owner was reminded to confirm.
func (b *Booking) MarkConfirmationNudged(now time.Time) {
	now = now.UTC()
	b.confirmationNudgedAt = &now
	b.updatedAt = now
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.version++
}

// CheckInvariants verifies the cross-field rules that must hold after every operation.
func (b *Booking) CheckInvariants() error {
	if (b.paymentReleasedAt != nil) != (b.paymentStatus == PaymentReleased) {
		return fmt.Errorf("paymentReleasedAt set=%t but payment is %s", b.paymentReleasedAt != nil, b.paymentStatus)
	}
	if (b.eligibleForReleaseAt != nil) != (b.completionConfirmedAt != nil) {
		return fmt.Errorf("eligibleForReleaseAt and completionConfirmedAt disagree")
	}
	if b.commissionFeeCents < 0 || b.commissionFeeCents > b.totalPriceCents {
		return fmt.Errorf("commission %d outside [0, %d]", b.commissionFeeCents, b.totalPriceCents)
	}
	if b.status == StatusCompleted && b.paymentStatus != PaymentHeld && b.paymentStatus != PaymentReleased {
		return fmt.Errorf("completed booking with payment %s", b.paymentStatus)
	}
	if b.status == StatusInProgress && b.paymentStatus != PaymentHeld {
		return fmt.Errorf("in-progress booking with payment %s", b.paymentStatus)
	}
	if b.status == StatusCancelled && b.paymentStatus == PaymentHeld {
		return fmt.Errorf("cancelled booking still holds funds")
	}
	return nil
}
