// Package scheduler runs the periodic escrow sweeps: automatic release after
// the hold window, reconciliation of pending captures, and the confirmation
// timeout for completed bookings the owner never confirmed.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// ConfirmationAction is what the confirmation timeout does.
type ConfirmationAction string

const (
	ConfirmationNudge       ConfirmationAction = "nudge"
	ConfirmationAutoConfirm ConfirmationAction = "auto_confirm"
)

// Sweep names, used as metric labels.
const (
	SweepRelease      = "release"
	SweepReconcile    = "reconcile"
	SweepConfirmation = "confirmation_timeout"
	SweepStart        = "start"
)

// Config tunes the sweeps.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// PendingAfter is the age after which a pending capture is reconciled.
	PendingAfter        time.Duration
	ConfirmationTimeout time.Duration
	ConfirmationAction  ConfirmationAction
	// StartMarker moves confirmed bookings to in_progress at their start time.
	StartMarker bool

	ReleaseRetries uint64
	RetryInitial   time.Duration
	RetryMax       time.Duration

	// GatewayRPS paces bookings that may call the gateway.
	GatewayRPS   float64
	GatewayBurst int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            2 * time.Minute,
		BatchSize:           100,
		PendingAfter:        10 * time.Minute,
		ConfirmationTimeout: 7 * 24 * time.Hour,
		ConfirmationAction:  ConfirmationNudge,
		ReleaseRetries:      3,
		RetryInitial:        500 * time.Millisecond,
		RetryMax:            10 * time.Second,
		GatewayRPS:          5,
		GatewayBurst:        5,
	}
}

// Service is the part of the booking service the sweeps drive.
type Service interface {
	ReleasePayment(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor, force bool) (*application.ReleaseResult, error)
	RecordReleaseFailure(ctx context.Context, id uuid.UUID, cause error) error
	ReconcileCapture(ctx context.Context, id uuid.UUID) error
	HandleConfirmationTimeout(ctx context.Context, id uuid.UUID, autoConfirm bool) error
	StartIfDue(ctx context.Context, id uuid.UUID) error
}

// Source finds the bookings each sweep works on.
type Source interface {
	FindDueForRelease(ctx context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error)
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error)
	FindAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]*bookingDomain.Booking, error)
	FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*bookingDomain.Booking, error)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records sweep metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler is the Completion & Release Scheduler.
type Scheduler struct {
	svc     Service
	source  Source
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Scheduler.
func New(svc Service, source Source, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	limit := rate.Inf
	if cfg.GatewayRPS > 0 {
		limit = rate.Limit(cfg.GatewayRPS)
	}
	burst := cfg.GatewayBurst
	if burst < 1 {
		burst = 1
	}
	s := &Scheduler{
		svc:     svc,
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		logger:  logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("confirmation_action", string(s.cfg.ConfirmationAction)),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every sweep once.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.sweep(ctx, SweepReconcile, func(ctx context.Context, now time.Time) ([]*bookingDomain.Booking, error) {
		return s.source.FindStalePending(ctx, now.Add(-s.cfg.PendingAfter), s.cfg.BatchSize)
	}, s.reconcile)

	if s.cfg.StartMarker {
		s.sweep(ctx, SweepStart, func(ctx context.Context, now time.Time) ([]*bookingDomain.Booking, error) {
			return s.source.FindDueToStart(ctx, now, s.cfg.BatchSize)
		}, s.start)
	}

	s.sweep(ctx, SweepConfirmation, func(ctx context.Context, now time.Time) ([]*bookingDomain.Booking, error) {
		return s.source.FindAwaitingConfirmation(ctx, now.Add(-s.cfg.ConfirmationTimeout), s.cfg.BatchSize)
	}, s.confirmationTimeout)

	s.sweep(ctx, SweepRelease, func(ctx context.Context, now time.Time) ([]*bookingDomain.Booking, error) {
		return s.source.FindDueForRelease(ctx, now, s.cfg.BatchSize)
	}, s.release)
}

type (
	findFunc   func(ctx context.Context, now time.Time) ([]*bookingDomain.Booking, error)
	handleFunc func(ctx context.Context, id uuid.UUID) string
)

func (s *Scheduler) sweep(ctx context.Context, name string, find findFunc, handle handleFunc) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(name, time.Since(start)) }()

	bookings, err := find(ctx, s.now())
	if err != nil {
		s.logger.Error("sweep query failed", zap.String("sweep", name), zap.Error(err))
		s.metrics.ObserveSchedulerItem(name, resultError)
		return
	}
	for _, bk := range bookings {
		if ctx.Err() != nil {
			return
		}
		result := handle(ctx, bk.ID())
		s.metrics.ObserveSchedulerItem(name, result)
	}
	if len(bookings) > 0 {
		s.logger.Debug("sweep finished", zap.String("sweep", name), zap.Int("bookings", len(bookings)))
	}
}

const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultRetry   = "retry"
	resultFailed  = "failed"
	resultError   = "error"
)

func (s *Scheduler) release(ctx context.Context, id uuid.UUID) string {
	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := s.svc.ReleasePayment(ctx, id, bookingDomain.SystemActor, false)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.cfg.ReleaseRetries), ctx))
	if err == nil {
		return resultOK
	}
	if ctx.Err() != nil {
		return resultSkipped
	}
	if stateChanged(err) {
		s.logger.Info("booking no longer due for release",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return resultSkipped
	}

	s.logger.Warn("automatic release failed",
		zap.String("booking_id", id.String()),
		zap.Error(err),
	)
	if recErr := s.svc.RecordReleaseFailure(ctx, id, err); recErr != nil {
		s.logger.Error("failed to record release failure",
			zap.String("booking_id", id.String()),
			zap.Error(recErr),
		)
	}
	return resultFailed
}

func (s *Scheduler) reconcile(ctx context.Context, id uuid.UUID) string {
	if err := s.limiter.Wait(ctx); err != nil {
		return resultSkipped
	}
	if err := s.svc.ReconcileCapture(ctx, id); err != nil {
		s.logger.Warn("capture reconciliation failed",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		if domain.IsRetryable(err) {
			return resultRetry
		}
		return resultFailed
	}
	return resultOK
}

func (s *Scheduler) confirmationTimeout(ctx context.Context, id uuid.UUID) string {
	auto := s.cfg.ConfirmationAction == ConfirmationAutoConfirm
	if err := s.svc.HandleConfirmationTimeout(ctx, id, auto); err != nil {
		s.logger.Warn("confirmation timeout failed",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return resultFailed
	}
	return resultOK
}

func (s *Scheduler) start(ctx context.Context, id uuid.UUID) string {
	if err := s.svc.StartIfDue(ctx, id); err != nil {
		if stateChanged(err) {
			return resultSkipped
		}
		s.logger.Warn("start marker failed",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return resultFailed
	}
	return resultOK
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// stateChanged reports errors caused by the booking moving on between the
// sweep query and the operation.
func stateChanged(err error) bool {
	return errors.Is(err, domain.ErrNotEligible) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrWrongPaymentState) ||
		errors.Is(err, domain.ErrNotFound)
}
