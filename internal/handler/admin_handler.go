package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/response"
)

// AdminBookingHandler handles admin HTTP requests for booking management.
type AdminBookingHandler struct {
	service *application.BookingService
}

// NewAdminBookingHandler creates a new AdminBookingHandler.
func NewAdminBookingHandler(service *application.BookingService) *AdminBookingHandler {
	return &AdminBookingHandler{service: service}
}

// RegisterRoutes registers admin booking routes.
func (h *AdminBookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/bookings/review", h.ReviewQueue)
		admin.POST("/bookings/:id/resolve", h.ResolveDispute)
		admin.POST("/bookings/:id/clear-review", h.ClearReview)
		admin.GET("/stats/bookings", h.BookingStats)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminBookingHandler) ListBookings(c *gin.Context) {
	page, limit := parsePagination(c)

	bookings, total, err := h.service.ListAllBookings(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// ReviewQueue handles GET /api/v1/admin/bookings/review.
func (h *AdminBookingHandler) ReviewQueue(c *gin.Context) {
	page, limit := parsePagination(c)

	bookings, total, err := h.service.ListReviewQueue(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// ResolveDispute handles POST /api/v1/admin/bookings/:id/resolve.
func (h *AdminBookingHandler) ResolveDispute(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Resolution string `json:"resolution" binding:"required"`
		Note       string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.ResolveDispute(c.Request.Context(), bookingID, actor,
		application.Resolution(body.Resolution), body.Note)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ClearReview handles POST /api/v1/admin/bookings/:id/clear-review.
func (h *AdminBookingHandler) ClearReview(c *gin.Context) {
	bookingID, actor, ok := bookingAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.ClearReview(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminBookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.service.GetBookingStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
