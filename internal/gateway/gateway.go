// Package gateway is the port to the payment processor that captures,
// refunds and pays out booking funds.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Outcome classifies a gateway call.
type Outcome string

const (
	// OutcomeSucceeded means the processor applied the operation.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the processor definitively rejected it.
	OutcomeFailed Outcome = "failed"
	// OutcomeUnknown means the result is in doubt (timeout, 5xx, network).
	OutcomeUnknown Outcome = "unknown"
)

// CaptureRequest charges the owner into escrow.
type CaptureRequest struct {
	IdempotencyKey   string
	BookingID        string
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
}

// RefundRequest returns captured funds to the owner.
type RefundRequest struct {
	IdempotencyKey string
	BookingID      string
	ChargeRef      string
	AmountCents    int64
	Reason         string
}

// PayoutRequest transfers the sitter's share.
type PayoutRequest struct {
	IdempotencyKey string
	BookingID      string
	RecipientRef   string
	AmountCents    int64
	Currency       string
}

// Result is the processor's answer to a call.
type Result struct {
	Outcome Outcome
	Ref     string
	Reason  string
}

// Gateway is implemented by payment processors. Calls with the same
// IdempotencyKey must be applied at most once by the processor.
//
// A returned error is an in-doubt failure; a definitive rejection is a nil
// error with OutcomeFailed.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	// CaptureStatus reports the state of a previous capture attempt by key.
	CaptureStatus(ctx context.Context, idempotencyKey string) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Payout(ctx context.Context, req PayoutRequest) (Result, error)
}

// ErrUnavailable marks transient processor failures.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ValidateAmount rejects non-positive amounts before they reach the processor.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}
