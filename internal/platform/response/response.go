package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Meta carries pagination details.
type Meta struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// Success writes a 200 response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Paginated writes a 200 response with pagination metadata.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    items,
		Meta:    &Meta{Total: total, Page: page, Limit: limit},
	})
}

// BadRequest writes a 400 validation response.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{
		Error: &ErrorBody{Code: string(domain.CodeValidation), Message: msg},
	})
}

// Unauthorized writes a 401 response.
func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{
		Error: &ErrorBody{Code: "UNAUTHENTICATED", Message: msg},
	})
}

// Forbidden writes a 403 response.
func Forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Envelope{
		Error: &ErrorBody{Code: string(domain.CodeUnauthorized), Message: msg},
	})
}

// Error maps err to an HTTP status and writes it.
func Error(c *gin.Context, err error) {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{
			Error: &ErrorBody{Code: string(domain.CodeInternal), Message: "internal server error"},
		})
		return
	}

	c.AbortWithStatusJSON(StatusFor(appErr), Envelope{
		Error: &ErrorBody{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		},
	})
}

// StatusFor returns the HTTP status for an AppError.
func StatusFor(err *domain.AppError) int {
	switch err.Code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeConflict, domain.CodeInvalidTransition, domain.CodeWrongPaymentState, domain.CodeNotEligible:
		return http.StatusConflict
	case domain.CodeGateway, domain.CodeRefundFailed:
		if err.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
