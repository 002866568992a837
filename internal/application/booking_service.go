package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/lock"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// Config tunes the escrow rules of the BookingService.
type Config struct {
	// HoldWindow is how long funds stay held after the owner confirms completion.
	HoldWindow time.Duration
	// GatewayTimeout bounds each payment gateway call.
	GatewayTimeout time.Duration
	// LockTimeout bounds the wait for another request on the same booking.
	LockTimeout time.Duration
	// ReviewThreshold is the number of exhausted automatic release runs
	// after which a booking is flagged for operator review.
	ReviewThreshold int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HoldWindow:      72 * time.Hour,
		GatewayTimeout:  10 * time.Second,
		LockTimeout:     30 * time.Second,
		ReviewThreshold: 3,
	}
}

// Option customizes a BookingService.
type Option func(*BookingService)

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BookingService) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *BookingService) { s.cfg = cfg }
}

// BookingService is the application service orchestrating booking use cases.
// Every mutation runs under the booking's lock: load, validate, call the
// gateway if needed, then commit with a version-conditional update.
type BookingService struct {
	repo       bookingDomain.BookingRepository
	gateway    gateway.Gateway
	locker     lock.Locker
	commission bookingDomain.CommissionPolicy
	notifier   Notifier
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	cfg        Config
	logger     *zap.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	gw gateway.Gateway,
	locker lock.Locker,
	commission bookingDomain.CommissionPolicy,
	notifier Notifier,
	logger *zap.Logger,
	opts ...Option,
) *BookingService {
	s := &BookingService{
		repo:       repo,
		gateway:    gw,
		locker:     locker,
		commission: commission,
		notifier:   notifier,
		tracer:     otel.Tracer("service-sitter-booking/application"),
		now:        time.Now,
		cfg:        DefaultConfig(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	return s
}

// CreateBooking creates a new booking requested by the owner.
func (s *BookingService) CreateBooking(ctx context.Context, actor bookingDomain.Actor, req CreateBookingRequest) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "CreateBooking", uuid.Nil)
	defer func() { s.endSpan(span, "create", err) }()

	if actor.Kind != bookingDomain.ActorUser {
		return nil, domain.NewUnauthorizedError("only pet owners can request bookings")
	}

	bk, err := bookingDomain.NewBooking(bookingDomain.NewBookingParams{
		OwnerID:          actor.ID,
		SitterID:         req.SitterID,
		PetID:            req.PetID,
		ServiceType:      bookingDomain.ServiceType(req.ServiceType),
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		TotalPriceCents:  req.TotalPriceCents,
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
		Notes:            req.Notes,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, bk); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	s.metrics.ObserveTransition("create")
	s.notify(ctx, bk, point{}, actor, "create")

	result := toBookingDTO(bk)
	return &result, nil
}

// UpdateBookingStatus moves the booking to target. A non-nil expected status
// must match the stored one. Cancelling a held booking refunds first.
func (s *BookingService) UpdateBookingStatus(
	ctx context.Context,
	id uuid.UUID,
	actor bookingDomain.Actor,
	req UpdateStatusRequest,
) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "UpdateBookingStatus", id)
	defer func() { s.endSpan(span, "status", err) }()

	target, err := bookingDomain.ParseBookingStatus(req.Status)
	if err != nil {
		return nil, err
	}
	action, err := bookingDomain.ActionForStatus(target)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.action", string(action)))

	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if _, err := bk.RoleOf(actor); err != nil {
			return err
		}
		if req.ExpectedStatus != nil && *req.ExpectedStatus != string(bk.Status()) {
			return domain.NewStaleStatusError(*req.ExpectedStatus, string(bk.Status()))
		}
		if bk.Status() == target {
			// replay of an applied request
			return bk.CheckReplay(action, actor)
		}

		now := s.now()
		from := pointOf(bk)
		var opErr error
		switch action {
		case bookingDomain.ActionAccept:
			opErr = bk.Accept(actor, req.PayoutRecipientRef, s.commission, now)
		case bookingDomain.ActionStart:
			opErr = bk.Start(actor, now)
		case bookingDomain.ActionComplete:
			opErr = bk.MarkCompleted(actor, now)
		case bookingDomain.ActionCancel:
			if bk.PaymentStatus() == bookingDomain.PaymentHeld {
				return s.refundLocked(ctx, bk, actor, req.Reason)
			}
			opErr = bk.Cancel(actor, req.Reason, now)
		}
		if opErr != nil {
			return opErr
		}
		return s.commit(ctx, bk, from, actor, string(action))
	})
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// MarkServiceCompleted records that the sitter finished the service.
func (s *BookingService) MarkServiceCompleted(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor) (*BookingDTO, error) {
	return s.UpdateBookingStatus(ctx, id, actor, UpdateStatusRequest{Status: string(bookingDomain.StatusCompleted)})
}

// ConfirmServiceCompletion records the owner's confirmation and starts the hold window.
func (s *BookingService) ConfirmServiceCompletion(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmServiceCompletion", id)
	defer func() { s.endSpan(span, "confirm", err) }()

	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		return s.confirmLocked(ctx, bk, actor)
	})
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

func (s *BookingService) confirmLocked(ctx context.Context, bk *bookingDomain.Booking, actor bookingDomain.Actor) error {
	role, err := bk.RoleOf(actor)
	if err != nil {
		return err
	}
	if bk.CompletionConfirmedAt() != nil && (role == bookingDomain.RoleOwner || role == bookingDomain.RoleSystem) {
		return nil
	}
	from := pointOf(bk)
	if err := bk.ConfirmCompletion(actor, s.cfg.HoldWindow, s.now()); err != nil {
		return err
	}
	return s.commit(ctx, bk, from, actor, "confirm_completion")
}

// OpenDispute lets the owner contest a confirmed completion. Release is frozen
// until an admin resolves the dispute.
func (s *BookingService) OpenDispute(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor, reason string) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "OpenDispute", id)
	defer func() { s.endSpan(span, "dispute", err) }()

	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		from := pointOf(bk)
		if err := bk.OpenDispute(actor, reason, s.now()); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, actor, "dispute")
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveFlagged()
	result := toBookingDTO(bk)
	return &result, nil
}

// ResolveDispute settles a disputed booking by releasing to the sitter or
// refunding the owner and cancelling.
func (s *BookingService) ResolveDispute(
	ctx context.Context,
	id uuid.UUID,
	actor bookingDomain.Actor,
	resolution Resolution,
	note string,
) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "ResolveDispute", id)
	defer func() { s.endSpan(span, "resolve", err) }()

	if actor.Kind != bookingDomain.ActorAdmin {
		return nil, domain.NewUnauthorizedError("only admins can resolve disputes")
	}
	if resolution != ResolveRelease && resolution != ResolveRefund {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown resolution %q", resolution))
	}

	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if !bk.IsDisputed() {
			return domain.NewInvalidStateError(string(bk.Status()), "resolved")
		}
		if resolution == ResolveRelease {
			_, err := s.releaseLocked(ctx, bk, actor, true)
			return err
		}
		reason := note
		if reason == "" {
			reason = "dispute resolved with refund"
		}
		return s.refundLocked(ctx, bk, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// ClearReview removes the operator review flag.
func (s *BookingService) ClearReview(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "ClearReview", id)
	defer func() { s.endSpan(span, "clear_review", err) }()

	if actor.Kind != bookingDomain.ActorAdmin {
		return nil, domain.NewUnauthorizedError("only admins can clear review flags")
	}
	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if !bk.NeedsReview() {
			return nil
		}
		if bk.IsDisputed() && bk.PaymentStatus() == bookingDomain.PaymentHeld {
			return domain.NewValidationError("resolve the dispute instead of clearing its review flag")
		}
		from := pointOf(bk)
		bk.ClearReview(s.now())
		return s.commit(ctx, bk, from, actor, "clear_review")
	})
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// RecordReleaseFailure counts an exhausted automatic release and flags the
// booking once the review threshold is reached.
func (s *BookingService) RecordReleaseFailure(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if bk.PaymentStatus() != bookingDomain.PaymentHeld {
			return nil
		}
		from := pointOf(bk)
		wasFlagged := bk.NeedsReview()
		bk.RecordReleaseFailure(fmt.Sprintf("automatic release failed: %v", cause), s.cfg.ReviewThreshold, s.now())
		if err := s.commit(ctx, bk, from, bookingDomain.SystemActor, "release_failure"); err != nil {
			return err
		}
		if !wasFlagged && bk.NeedsReview() {
			s.metrics.ObserveFlagged()
			s.logger.Warn("booking flagged for review",
				zap.String("booking_id", bk.ID().String()),
				zap.Int("release_failures", bk.ReleaseFailures()),
			)
		}
		return nil
	})
	return err
}

// HandleConfirmationTimeout nudges the owner once, or auto-confirms with the
// system actor, for a completed booking that was never confirmed.
func (s *BookingService) HandleConfirmationTimeout(ctx context.Context, id uuid.UUID, autoConfirm bool) (err error) {
	ctx, span := s.startSpan(ctx, "HandleConfirmationTimeout", id)
	defer func() { s.endSpan(span, "confirmation_timeout", err) }()

	_, err = s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if bk.Status() != bookingDomain.StatusCompleted || bk.CompletionConfirmedAt() != nil ||
			bk.PaymentStatus() != bookingDomain.PaymentHeld {
			return nil
		}
		if autoConfirm {
			return s.confirmLocked(ctx, bk, bookingDomain.SystemActor)
		}
		if bk.ConfirmationNudgedAt() != nil {
			return nil
		}
		from := pointOf(bk)
		now := s.now()
		bk.MarkConfirmationNudged(now)
		if err := s.commit(ctx, bk, from, bookingDomain.SystemActor, "confirmation_nudge"); err != nil {
			return err
		}
		evt := ReminderEvent{
			BookingID:     bk.ID(),
			BookingNumber: bk.BookingNumber(),
			OwnerID:       bk.OwnerID(),
			OccurredAt:    now.UTC(),
		}
		if bk.CompletedAt() != nil {
			evt.CompletedAt = *bk.CompletedAt()
		}
		if err := s.notifier.ConfirmationReminder(ctx, evt); err != nil {
			s.metrics.ObserveNotifyFailure()
			s.logger.Error("failed to publish confirmation reminder",
				zap.String("booking_id", bk.ID().String()),
				zap.Error(err),
			)
		}
		return nil
	})
	return err
}

// StartIfDue marks a confirmed, paid booking in progress once its start time
// passed. Unpaid bookings stay confirmed so the owner can still authorize.
func (s *BookingService) StartIfDue(ctx context.Context, id uuid.UUID) error {
	_, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		now := s.now()
		if bk.Status() != bookingDomain.StatusConfirmed || bk.PaymentStatus() != bookingDomain.PaymentHeld ||
			now.Before(bk.StartTime()) {
			return nil
		}
		from := pointOf(bk)
		if err := bk.Start(bookingDomain.SystemActor, now); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, bookingDomain.SystemActor, "start")
	})
	return err
}

// --- Queries ---

// GetBooking returns a booking visible to actor.
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := bk.RoleOf(actor); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// GetOwnerBookings retrieves paginated bookings for a specific owner.
func (s *BookingService) GetOwnerBookings(ctx context.Context, ownerID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindByOwnerID(ctx, ownerID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// GetSitterBookings retrieves paginated bookings for a specific sitter.
func (s *BookingService) GetSitterBookings(ctx context.Context, sitterID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindBySitterID(ctx, sitterID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// --- Admin methods ---

// ListAllBookings returns a paginated list of all bookings (admin).
func (s *BookingService) ListAllBookings(ctx context.Context, page, limit int) ([]BookingDTO, int64, error) {
	bookings, total, err := s.repo.ListAll(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	return toBookingDTOs(bookings), total, nil
}

// ListReviewQueue returns bookings flagged for operator review (admin).
func (s *BookingService) ListReviewQueue(ctx context.Context, page, limit int) ([]BookingDTO, int64, error) {
	bookings, total, err := s.repo.FindFlaggedForReview(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list review queue: %w", err)
	}
	return toBookingDTOs(bookings), total, nil
}

// GetBookingStats returns aggregate booking statistics (admin).
func (s *BookingService) GetBookingStats(ctx context.Context) (*BookingStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	return &BookingStatsDTO{
		TotalBookings: total,
		ByStatus:      counts,
	}, nil
}

// --- Helpers ---

// point is a position on both status axes.
type point struct {
	status  bookingDomain.BookingStatus
	payment bookingDomain.PaymentStatus
}

func pointOf(bk *bookingDomain.Booking) point {
	return point{status: bk.Status(), payment: bk.PaymentStatus()}
}

// locked runs fn on a freshly loaded booking while holding its lock. fn
// commits its own changes; the returned booking is the last loaded or
// committed state.
func (s *BookingService) locked(
	ctx context.Context,
	id uuid.UUID,
	fn func(ctx context.Context, bk *bookingDomain.Booking) error,
) (*bookingDomain.Booking, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	release, err := s.locker.Acquire(lockCtx, id.String())
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			appErr := domain.NewConflictError("booking is busy, try again")
			appErr.Retryable = true
			return nil, appErr
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	defer release()

	// once a gateway call is issued its outcome must be recorded even if
	// the caller goes away
	ctx = context.WithoutCancel(ctx)

	bk, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, bk); err != nil {
		return nil, err
	}
	return bk, nil
}

// commit persists bk with optimistic locking and notifies on status or
// payment changes.
func (s *BookingService) commit(
	ctx context.Context,
	bk *bookingDomain.Booking,
	from point,
	actor bookingDomain.Actor,
	op string,
) error {
	if err := bk.CheckInvariants(); err != nil {
		s.logger.Error("refusing to commit booking that violates invariants",
			zap.String("booking_id", bk.ID().String()),
			zap.String("operation", op),
			zap.Error(err),
		)
		return domain.NewInternalError("booking invariant violated", err)
	}

	bk.IncrementVersion()
	if err := s.repo.Update(ctx, bk); err != nil {
		return err
	}
	s.metrics.ObserveTransition(op)

	if !bookkeepingOps[op] {
		s.notify(ctx, bk, from, actor, op)
	}
	return nil
}

// bookkeepingOps are committed without a transition event. Release failures
// surface through metrics and the review queue, nudges through ConfirmationReminder.
var bookkeepingOps = map[string]bool{
	"release_failure":    true,
	"confirmation_nudge": true,
}

func (s *BookingService) notify(ctx context.Context, bk *bookingDomain.Booking, from point, actor bookingDomain.Actor, op string) {
	role, _ := bk.RoleOf(actor)
	evt := TransitionEvent{
		BookingID:        bk.ID(),
		BookingNumber:    bk.BookingNumber(),
		OwnerID:          bk.OwnerID(),
		SitterID:         bk.SitterID(),
		Operation:        op,
		OldStatus:        string(from.status),
		NewStatus:        string(bk.Status()),
		OldPaymentStatus: string(from.payment),
		NewPaymentStatus: string(bk.PaymentStatus()),
		Actor:            string(role),
		ActorID:          actor.ID,
		Version:          bk.Version(),
		OccurredAt:       s.now().UTC(),
	}
	if err := s.notifier.BookingTransitioned(ctx, evt); err != nil {
		s.metrics.ObserveNotifyFailure()
		s.logger.Error("failed to publish booking transition",
			zap.String("booking_id", bk.ID().String()),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

func (s *BookingService) startSpan(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "BookingService."+name)
	if id != uuid.Nil {
		span.SetAttributes(attribute.String("booking.id", id.String()))
	}
	return ctx, span
}

func (s *BookingService) endSpan(span trace.Span, op string, err error) {
	if err != nil {
		code := domain.CodeOf(err)
		s.metrics.ObserveError(op, string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
	}
	span.End()
}
