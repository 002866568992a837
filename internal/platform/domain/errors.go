package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError for transport mapping and errors.Is matching.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeWrongPaymentState ErrorCode = "WRONG_PAYMENT_STATE"
	CodeNotEligible       ErrorCode = "NOT_ELIGIBLE_FOR_RELEASE"
	CodeGateway           ErrorCode = "GATEWAY_ERROR"
	CodeRefundFailed      ErrorCode = "REFUND_FAILED"
	CodeInternal          ErrorCode = "INTERNAL"
)

// AppError is the error type surfaced by the domain and application layers.
type AppError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error { return e.Err }

// Is reports whether target is an AppError with the same code. REFUND_FAILED
// also matches GATEWAY_ERROR since it is a gateway failure on the cancel path.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeGateway && e.Code == CodeRefundFailed
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &AppError{Code: CodeNotFound}
	ErrValidation        = &AppError{Code: CodeValidation}
	ErrConflict          = &AppError{Code: CodeConflict}
	ErrInvalidTransition = &AppError{Code: CodeInvalidTransition}
	ErrUnauthorized      = &AppError{Code: CodeUnauthorized}
	ErrWrongPaymentState = &AppError{Code: CodeWrongPaymentState}
	ErrNotEligible       = &AppError{Code: CodeNotEligible}
	ErrGateway           = &AppError{Code: CodeGateway}
	ErrRefundFailed      = &AppError{Code: CodeRefundFailed}
)

// NewNotFoundError creates a not-found error for the given entity.
func NewNotFoundError(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewValidationError creates a validation error.
func NewValidationError(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg}
}

// NewConflictError creates a conflict error, used for lost optimistic-lock races.
func NewConflictError(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg}
}

// NewInvalidStateError reports a status change that is not reachable from the current state.
func NewInvalidStateError(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewStaleStatusError rejects a request made against an outdated view of the booking.
func NewStaleStatusError(expected, current string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("stale request: expected status %s, booking is %s", expected, current),
	}
}

// NewUnauthorizedError reports an actor that is not allowed to perform an operation.
func NewUnauthorizedError(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg}
}

// NewWrongPaymentStateError reports an operation that requires a different payment state.
func NewWrongPaymentStateError(op, current string) *AppError {
	return &AppError{
		Code:    CodeWrongPaymentState,
		Message: fmt.Sprintf("%s not allowed while payment is %s", op, current),
	}
}

// NewNotEligibleError reports a release attempted before the hold window elapsed.
func NewNotEligibleError(msg string) *AppError {
	return &AppError{Code: CodeNotEligible, Message: msg}
}

// NewGatewayError wraps a failed gateway call.
func NewGatewayError(op string, retryable bool, err error) *AppError {
	return &AppError{
		Code:      CodeGateway,
		Message:   fmt.Sprintf("gateway %s failed", op),
		Retryable: retryable,
		Err:       err,
	}
}

// NewRefundFailedError wraps a refund failure that blocked a cancellation.
func NewRefundFailedError(retryable bool, err error) *AppError {
	return &AppError{
		Code:      CodeRefundFailed,
		Message:   "refund failed, booking not cancelled",
		Retryable: retryable,
		Err:       err,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(msg string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Err: err}
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// CodeOf returns the AppError code of err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
