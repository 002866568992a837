package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *domain.AppError
		want int
	}{
		{domain.NewNotFoundError("Booking", "1"), http.StatusNotFound},
		{domain.NewValidationError("bad"), http.StatusBadRequest},
		{domain.NewUnauthorizedError("no"), http.StatusForbidden},
		{domain.NewConflictError("race"), http.StatusConflict},
		{domain.NewInvalidStateError("requested", "completed"), http.StatusConflict},
		{domain.NewWrongPaymentStateError("release", "pending"), http.StatusConflict},
		{domain.NewNotEligibleError("hold window"), http.StatusConflict},
		{domain.NewGatewayError("capture", true, errors.New("timeout")), http.StatusServiceUnavailable},
		{domain.NewGatewayError("capture", false, errors.New("declined")), http.StatusBadGateway},
		{domain.NewRefundFailedError(false, errors.New("rejected")), http.StatusBadGateway},
		{domain.NewInternalError("db", errors.New("down")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestError_WrappedAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, fmt.Errorf("release: %w", domain.NewGatewayError("payout", true, errors.New("timeout"))))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "GATEWAY_ERROR", env.Error.Code)
	assert.True(t, env.Error.Retryable)
}

func TestError_PlainErrorIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
