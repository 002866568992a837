package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/response"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
// idempotency guards the mutating routes; pass nil to disable replay.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager, idempotency gin.HandlerFunc) {
	bookings := r.Group("/api/v1/bookings")
	bookings.Use(middleware.AuthMiddleware(jwtManager))
	if idempotency != nil {
		bookings.Use(idempotency)
	}
	{
		bookings.POST("", middleware.RequireRole(auth.RoleOwner), h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.PATCH("/:id/status", h.UpdateStatus)
		bookings.POST("/:id/complete", h.MarkCompleted)
		bookings.POST("/:id/confirm", h.ConfirmCompletion)
		bookings.POST("/:id/dispute", h.OpenDispute)
		bookings.POST("/:id/payment/authorize", h.AuthorizePayment)
		bookings.POST("/:id/payment/release", h.ReleasePayment)
		bookings.POST("/:id/payment/refund", h.RefundPayment)
	}
}

// CreateBooking handles POST /api/v1/bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings. Owners see their bookings,
// sitters the bookings assigned to them, admins everything.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	role, _ := middleware.GetUserRole(c)
	page, limit := parsePagination(c)
	ctx := c.Request.Context()

	switch role {
	case auth.RoleAdmin:
		items, total, err := h.service.ListAllBookings(ctx, page, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Paginated(c, items, total, page, limit)

	case auth.RoleSitter:
		result, err := h.service.GetSitterBookings(ctx, userID, page, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)

	default:
		result, err := h.service.GetOwnerBookings(ctx, userID, page, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
	}
}

// GetBooking handles GET /api/v1/bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateStatus handles PATCH /api/v1/bookings/:id/status.
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	var req application.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateBookingStatus(c.Request.Context(), bookingID, actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// MarkCompleted handles POST /api/v1/bookings/:id/complete (sitter finished).
func (h *BookingHandler) MarkCompleted(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.MarkServiceCompleted(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ConfirmCompletion handles POST /api/v1/bookings/:id/confirm (owner confirms).
func (h *BookingHandler) ConfirmCompletion(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.ConfirmServiceCompletion(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// OpenDispute handles POST /api/v1/bookings/:id/dispute.
func (h *BookingHandler) OpenDispute(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.OpenDispute(c.Request.Context(), bookingID, actor, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AuthorizePayment handles POST /api/v1/bookings/:id/payment/authorize.
func (h *BookingHandler) AuthorizePayment(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.AuthorizeAndHold(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ReleasePayment handles POST /api/v1/bookings/:id/payment/release.
func (h *BookingHandler) ReleasePayment(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Force bool `json:"force"`
	}
	_ = c.ShouldBindJSON(&body)

	result, err := h.service.ReleasePayment(c.Request.Context(), bookingID, actor, body.Force)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RefundPayment handles POST /api/v1/bookings/:id/payment/refund.
func (h *BookingHandler) RefundPayment(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	result, err := h.service.RefundPayment(c.Request.Context(), bookingID, actor, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// actorFrom builds the booking actor from the verified token. Admin tokens
// act with operator privileges.
func actorFrom(c *gin.Context) (bookingDomain.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return bookingDomain.Actor{}, false
	}
	if role, _ := middleware.GetUserRole(c); role == auth.RoleAdmin {
		return bookingDomain.AdminActor(userID), true
	}
	return bookingDomain.UserActor(userID), true
}

func bookingAndActor(c *gin.Context) (uuid.UUID, bookingDomain.Actor, bool) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return uuid.Nil, bookingDomain.Actor{}, false
	}
	actor, ok := actorFrom(c)
	return bookingID, actor, ok
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
