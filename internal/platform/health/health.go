package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Handler serves liveness and readiness probes.
type Handler struct {
	db      *gorm.DB
	redis   *redis.Client
	service string
}

// NewHandler creates a Handler. db and rdb may be nil when the backing
// store is not configured.
func NewHandler(db *gorm.DB, rdb *redis.Client, service string) *Handler {
	return &Handler{db: db, redis: rdb, service: service}
}

// RegisterRoutes mounts /health and /ready.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Live)
	r.GET("/ready", h.Ready)
}

// Live reports that the process is up.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
}

// Ready pings dependencies.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		checks["database"] = statusOf(err)
		ready = ready && err == nil
	}
	if h.redis != nil {
		err := h.redis.Ping(ctx).Err()
		checks["redis"] = statusOf(err)
		ready = ready && err == nil
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"service": h.service, "ready": ready, "checks": checks})
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
