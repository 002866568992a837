package booking

import (
	"fmt"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// DefaultCommissionBasisPoints is 15%.
const DefaultCommissionBasisPoints = 1500

// CommissionPolicy computes the platform fee taken from a booking total.
type CommissionPolicy interface {
	Commission(totalCents int64) (int64, error)
}

// RateCommission charges a fixed rate in basis points, rounded down.
type RateCommission struct {
	BasisPoints int64
}

// NewRateCommission creates a RateCommission.
func NewRateCommission(basisPoints int64) (*RateCommission, error) {
	if basisPoints < 0 || basisPoints > 10000 {
		return nil, domain.NewValidationError(fmt.Sprintf("commission rate %d bps out of range", basisPoints))
	}
	return &RateCommission{BasisPoints: basisPoints}, nil
}

// Commission returns floor(total * bps / 10000) clamped to [0, total].
func (r *RateCommission) Commission(totalCents int64) (int64, error) {
	if totalCents < 0 {
		return 0, domain.NewValidationError("total price must not be negative")
	}
	fee := totalCents / 10000 * r.BasisPoints
	fee += totalCents % 10000 * r.BasisPoints / 10000
	if fee < 0 {
		fee = 0
	}
	if fee > totalCents {
		fee = totalCents
	}
	return fee, nil
}
