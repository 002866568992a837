package booking

import (
	"fmt"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// PaymentStatus is the escrow ledger state of a booking.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = "none"
	PaymentPending  PaymentStatus = "pending"
	PaymentHeld     PaymentStatus = "held"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// paymentTransitions is the escrow graph. pending -> none is taken only when
// the gateway definitively rejected the capture.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentNone:     {PaymentPending},
	PaymentPending:  {PaymentHeld, PaymentNone},
	PaymentHeld:     {PaymentReleased, PaymentRefunded},
	PaymentReleased: {},
	PaymentRefunded: {},
}

// IsValid reports whether p is a known payment status.
func (p PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[p]
	return ok
}

// CanTransitionTo reports whether the escrow graph has an edge p -> target.
func (p PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range paymentTransitions[p] {
		if t == target {
			return true
		}
	}
	return false
}

// IsSettled reports whether funds have left escrow for good.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentReleased || p == PaymentRefunded
}

// String returns the string representation of the payment status.
func (p PaymentStatus) String() string { return string(p) }

// ParsePaymentStatus converts a string to a PaymentStatus.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	p := PaymentStatus(s)
	if !p.IsValid() {
		return "", domain.NewValidationError(fmt.Sprintf("invalid payment status: %s", s))
	}
	return p, nil
}

// ServiceType is the kind of care booked.
type ServiceType string

const (
	ServiceWalk     ServiceType = "walk"
	ServiceCare     ServiceType = "care"
	ServiceBoarding ServiceType = "boarding"
)

// IsValid reports whether t is a known service type.
func (t ServiceType) IsValid() bool {
	switch t {
	case ServiceWalk, ServiceCare, ServiceBoarding:
		return true
	}
	return false
}
