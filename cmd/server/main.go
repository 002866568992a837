package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/config"
	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	bookingEvents "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/events"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/handler"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/lock"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/database"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/health"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/kafka"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/logger"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/tracing"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/scheduler"
)

const serviceName = "service-sitter-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Server.Port),
		zap.String("gateway", cfg.Gateway.Provider),
		zap.Bool("kafka", cfg.KafkaEnabled()),
		zap.Bool("redis", cfg.RedisEnabled()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Tracing.Endpoint != "" {
		shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.Version, cfg.AppEnv, cfg.Tracing.Endpoint)
		if err != nil {
			log.Fatal("failed to init tracing", zap.Error(err))
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				log.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	// Connect to database
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.BookingModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(cfg.Database.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Redis backs the booking lock and the idempotency store when configured
	var (
		rdb       *redis.Client
		locker    lock.Locker                 = lock.NewLocalLocker()
		idemStore middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore()
	)
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log)
		idemStore = middleware.NewRedisIdempotencyStore(rdb)
	} else {
		log.Warn("redis not configured, using in-process lock; run a single replica")
	}

	// Payment gateway
	var gw gateway.Gateway
	switch cfg.Gateway.Provider {
	case "omise":
		omiseGW, err := gateway.NewOmiseGateway(gateway.OmiseConfig{
			PublicKey: cfg.Gateway.OmisePublicKey,
			SecretKey: cfg.Gateway.OmiseSecretKey,
			Timeout:   cfg.Gateway.Timeout,
		}, log)
		if err != nil {
			log.Fatal("failed to create omise gateway", zap.Error(err))
		}
		gw = omiseGW
	default:
		log.Warn("using sandbox payment gateway")
		gw = gateway.NewSandbox()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mets := metrics.New(registry)

	// Notification emitter
	var notifier application.Notifier = application.NopNotifier{}
	if cfg.KafkaEnabled() {
		kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer func() { _ = kafkaProducer.Close() }()
		notifier = bookingEvents.NewKafkaNotifier(kafkaProducer, log)
	}

	commission, err := bookingDomain.NewRateCommission(cfg.Escrow.CommissionBasisPoints)
	if err != nil {
		log.Fatal("invalid commission", zap.Error(err))
	}

	// Initialize repository and application service
	bookingRepo := repository.NewGormBookingRepository(db)
	bookingService := application.NewBookingService(
		bookingRepo,
		gw,
		locker,
		commission,
		notifier,
		log,
		application.WithMetrics(mets),
		application.WithConfig(application.Config{
			HoldWindow:      cfg.Escrow.HoldWindow,
			GatewayTimeout:  cfg.Gateway.Timeout,
			LockTimeout:     cfg.Gateway.LockWaitTimeout,
			ReviewThreshold: cfg.Escrow.ReviewThreshold,
		}),
	)

	// Completion & release scheduler
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(bookingService, bookingRepo, scheduler.Config{
			Interval:            cfg.Scheduler.Interval,
			BatchSize:           cfg.Scheduler.BatchSize,
			PendingAfter:        cfg.Escrow.PendingAfter,
			ConfirmationTimeout: cfg.Escrow.ConfirmationTimeout,
			ConfirmationAction:  scheduler.ConfirmationAction(cfg.Escrow.ConfirmationAction),
			StartMarker:         cfg.Scheduler.StartBookings,
			ReleaseRetries:      cfg.Scheduler.ReleaseRetries,
			RetryInitial:        cfg.Scheduler.RetryInitial,
			RetryMax:            cfg.Scheduler.RetryMax,
			GatewayRPS:          cfg.Scheduler.GatewayRPS,
			GatewayBurst:        cfg.Scheduler.GatewayBurst,
		}, log, scheduler.WithMetrics(mets))

		go func() {
			log.Info("starting release scheduler", zap.Duration("interval", cfg.Scheduler.Interval))
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	// Gateway webhook relay consumer
	if cfg.KafkaEnabled() {
		groupID := cfg.Kafka.GroupPrefix + "sitter-booking-service"
		gatewayConsumer := bookingEvents.NewGatewayEventConsumer(cfg.Kafka.Brokers, groupID, bookingService, log)
		defer func() { _ = gatewayConsumer.Close() }()

		go func() {
			log.Info("starting gateway event consumer")
			if err := gatewayConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("gateway event consumer error", zap.Error(err))
			}
		}()
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	// Setup Gin router
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Health, readiness and metrics
	health.NewHandler(db, rdb, serviceName).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Register routes
	idempotency := middleware.IdempotencyMiddleware(idemStore, cfg.Server.IdempotencyTTL, log)
	handler.NewBookingHandler(bookingService).RegisterRoutes(&router.RouterGroup, jwtManager, idempotency)
	handler.NewAdminBookingHandler(bookingService).RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	// Stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info(serviceName + " stopped")
}
