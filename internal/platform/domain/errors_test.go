package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Is(t *testing.T) {
	err := fmt.Errorf("cancel: %w", NewRefundFailedError(true, context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrRefundFailed)
	assert.ErrorIs(t, err, ErrGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, NewGatewayError("payout", false, nil), ErrRefundFailed)
}

func TestIsRetryableAndCodeOf(t *testing.T) {
	assert.True(t, IsRetryable(NewGatewayError("capture", true, errors.New("timeout"))))
	assert.False(t, IsRetryable(NewGatewayError("capture", false, errors.New("declined"))))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.Equal(t, CodeNotEligible, CodeOf(fmt.Errorf("wrap: %w", NewNotEligibleError("hold"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestNewPaginatedResult(t *testing.T) {
	p := NewPaginatedResult([]int{1, 2}, 21, 1, 10)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 0, NewPaginatedResult([]int{}, 0, 1, 10).TotalPages)
	assert.Equal(t, 0, NewPaginatedResult([]int{}, 5, 1, 0).TotalPages)
}
