package booking

import (
	"fmt"

	"github.com/google/uuid"
)

// CaptureKey is the gateway idempotency key for a capture attempt.
func CaptureKey(id uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:capture:%d", id, attempt)
}

// PayoutKey is the gateway idempotency key for a payout attempt.
func PayoutKey(id uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:payout:%d", id, attempt)
}

// RefundKey is the gateway idempotency key for a refund attempt.
func RefundKey(id uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:refund:%d", id, attempt)
}
