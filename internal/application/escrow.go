package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// errInDoubt marks a gateway call whose outcome is unknown.
var errInDoubt = errors.New("gateway outcome unknown")

// AuthorizeAndHold captures the booking total into escrow. A booking left
// pending by an in-doubt attempt is resolved under the same idempotency key
// before anything new is issued.
func (s *BookingService) AuthorizeAndHold(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor) (_ *BookingDTO, err error) {
	ctx, span := s.startSpan(ctx, "AuthorizeAndHold", id)
	defer func() { s.endSpan(span, "authorize", err) }()

	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if _, err := bk.RoleOf(actor); err != nil {
			return err
		}
		if bk.PaymentStatus() == bookingDomain.PaymentHeld {
			return nil
		}

		if bk.PaymentStatus() == bookingDomain.PaymentPending {
			// validate the caller before touching the gateway
			if _, err := bk.Check(bookingDomain.ActionAuthorize, actor, false, s.now()); err != nil {
				return err
			}
			settled, err := s.resolvePending(ctx, bk, actor)
			if err != nil || settled {
				return err
			}
		}

		from := pointOf(bk)
		attempt, err := bk.BeginCapture(actor, s.now())
		if err != nil {
			return err
		}
		if pointOf(bk) != from {
			// pending is durable before the processor sees the request
			if err := s.commit(ctx, bk, from, actor, "capture_requested"); err != nil {
				return err
			}
		}
		return s.capture(ctx, bk, actor, attempt)
	})
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// resolvePending asks the gateway what happened to the pending attempt.
// It reports settled=true when the booking reached held. A definitive
// failure moves the booking back to none so a fresh attempt can start; an
// attempt the processor never saw is left pending to be re-sent under the
// same key.
func (s *BookingService) resolvePending(ctx context.Context, bk *bookingDomain.Booking, actor bookingDomain.Actor) (bool, error) {
	key := bookingDomain.CaptureKey(bk.ID(), bk.CaptureAttempt())
	res, err := s.callGateway(ctx, "capture_status", func(ctx context.Context) (gateway.Result, error) {
		return s.gateway.CaptureStatus(ctx, key)
	})
	if err != nil {
		return false, domain.NewGatewayError("capture status", true, err)
	}

	from := pointOf(bk)
	switch res.Outcome {
	case gateway.OutcomeSucceeded:
		if err := bk.CaptureSucceeded(res.Ref, s.now()); err != nil {
			return false, err
		}
		return true, s.commit(ctx, bk, from, actor, "capture")
	case gateway.OutcomeFailed:
		if res.Ref == "" {
			return false, nil
		}
		if err := bk.CaptureFailed(s.now()); err != nil {
			return false, err
		}
		return false, s.commit(ctx, bk, from, actor, "capture_failed")
	}
	return false, domain.NewGatewayError("capture", true, errInDoubt)
}

func (s *BookingService) capture(ctx context.Context, bk *bookingDomain.Booking, actor bookingDomain.Actor, attempt int) error {
	from := pointOf(bk)
	now := s.now()

	if bk.TotalPriceCents() == 0 {
		if err := bk.CaptureSucceeded("", now); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, actor, "capture")
	}

	req := gateway.CaptureRequest{
		IdempotencyKey:   bookingDomain.CaptureKey(bk.ID(), attempt),
		BookingID:        bk.ID().String(),
		AmountCents:      bk.TotalPriceCents(),
		Currency:         bk.Currency(),
		PaymentMethodRef: bk.PaymentMethodRef(),
	}
	res, err := s.callGateway(ctx, "capture", func(ctx context.Context) (gateway.Result, error) {
		return s.gateway.Capture(ctx, req)
	})
	if err != nil {
		// stays pending; reconciliation or a retry resolves it
		return domain.NewGatewayError("capture", true, err)
	}

	switch res.Outcome {
	case gateway.OutcomeSucceeded:
		if err := bk.CaptureSucceeded(res.Ref, s.now()); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, actor, "capture")
	case gateway.OutcomeFailed:
		if err := bk.CaptureFailed(s.now()); err != nil {
			return err
		}
		if err := s.commit(ctx, bk, from, actor, "capture_failed"); err != nil {
			return err
		}
		return domain.NewGatewayError("capture", false, fmt.Errorf("declined: %s", res.Reason))
	}
	return domain.NewGatewayError("capture", true, errInDoubt)
}

// ReconcileCapture resolves a pending capture from the gateway's records.
// It is a no-op for bookings that are no longer pending.
func (s *BookingService) ReconcileCapture(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "ReconcileCapture", id)
	defer func() { s.endSpan(span, "reconcile", err) }()

	_, err = s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if bk.PaymentStatus() != bookingDomain.PaymentPending {
			return nil
		}
		key := bookingDomain.CaptureKey(bk.ID(), bk.CaptureAttempt())
		res, err := s.callGateway(ctx, "capture_status", func(ctx context.Context) (gateway.Result, error) {
			return s.gateway.CaptureStatus(ctx, key)
		})
		if err != nil {
			return domain.NewGatewayError("capture status", true, err)
		}
		return s.applyCaptureResult(ctx, bk, res)
	})
	return err
}

// ApplyCaptureResult records a capture outcome relayed from the gateway's
// webhooks. Results for other attempts than the pending one are ignored.
func (s *BookingService) ApplyCaptureResult(ctx context.Context, id uuid.UUID, idempotencyKey string, res gateway.Result) (err error) {
	ctx, span := s.startSpan(ctx, "ApplyCaptureResult", id)
	defer func() { s.endSpan(span, "capture_webhook", err) }()

	_, err = s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if bk.PaymentStatus() != bookingDomain.PaymentPending {
			return nil
		}
		if idempotencyKey != bookingDomain.CaptureKey(bk.ID(), bk.CaptureAttempt()) {
			s.logger.Info("ignoring capture result for stale attempt",
				zap.String("booking_id", bk.ID().String()),
				zap.String("idempotency_key", idempotencyKey),
			)
			return nil
		}
		return s.applyCaptureResult(ctx, bk, res)
	})
	return err
}

func (s *BookingService) applyCaptureResult(ctx context.Context, bk *bookingDomain.Booking, res gateway.Result) error {
	from := pointOf(bk)
	switch res.Outcome {
	case gateway.OutcomeSucceeded:
		if err := bk.CaptureSucceeded(res.Ref, s.now()); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, bookingDomain.SystemActor, "capture_reconciled")
	case gateway.OutcomeFailed:
		if err := bk.CaptureFailed(s.now()); err != nil {
			return err
		}
		return s.commit(ctx, bk, from, bookingDomain.SystemActor, "capture_failed")
	}
	return nil
}

// ReleasePayment pays the sitter their share. A booking that was already
// released reports AlreadyReleased without calling the gateway.
func (s *BookingService) ReleasePayment(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor, force bool) (_ *ReleaseResult, err error) {
	ctx, span := s.startSpan(ctx, "ReleasePayment", id)
	defer func() { s.endSpan(span, "release", err) }()

	var already bool
	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		var err error
		already, err = s.releaseLocked(ctx, bk, actor, force)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ReleaseResult{Booking: toBookingDTO(bk), AlreadyReleased: already}, nil
}

func (s *BookingService) releaseLocked(ctx context.Context, bk *bookingDomain.Booking, actor bookingDomain.Actor, force bool) (bool, error) {
	if _, err := bk.RoleOf(actor); err != nil {
		return false, err
	}
	if bk.PaymentStatus() == bookingDomain.PaymentReleased {
		return true, nil
	}
	if err := bk.CheckRelease(actor, force, s.now()); err != nil {
		return false, err
	}

	from := pointOf(bk)
	amount := bk.PayoutCents()
	var ref string
	if amount > 0 {
		req := gateway.PayoutRequest{
			IdempotencyKey: bookingDomain.PayoutKey(bk.ID(), bk.NextPayoutAttempt()),
			BookingID:      bk.ID().String(),
			RecipientRef:   bk.PayoutRecipientRef(),
			AmountCents:    amount,
			Currency:       bk.Currency(),
		}
		res, err := s.callGateway(ctx, "payout", func(ctx context.Context) (gateway.Result, error) {
			return s.gateway.Payout(ctx, req)
		})
		if err != nil {
			return false, domain.NewGatewayError("payout", true, err)
		}
		switch res.Outcome {
		case gateway.OutcomeFailed:
			bk.PayoutRejected(s.now())
			if err := s.commit(ctx, bk, from, actor, "payout_failed"); err != nil {
				return false, err
			}
			return false, domain.NewGatewayError("payout", false, fmt.Errorf("rejected: %s", res.Reason))
		case gateway.OutcomeUnknown:
			return false, domain.NewGatewayError("payout", true, errInDoubt)
		}
		ref = res.Ref
	}

	if err := bk.Release(actor, force, ref, s.now()); err != nil {
		return false, err
	}
	return false, s.commit(ctx, bk, from, actor, "release")
}

// RefundPayment refunds the owner in full and cancels the booking. Nothing is
// committed if the refund fails. A booking already refunded reports
// AlreadyRefunded.
func (s *BookingService) RefundPayment(ctx context.Context, id uuid.UUID, actor bookingDomain.Actor, reason string) (_ *RefundResult, err error) {
	ctx, span := s.startSpan(ctx, "RefundPayment", id)
	defer func() { s.endSpan(span, "refund", err) }()

	var already bool
	bk, err := s.locked(ctx, id, func(ctx context.Context, bk *bookingDomain.Booking) error {
		if _, err := bk.RoleOf(actor); err != nil {
			return err
		}
		if bk.PaymentStatus() == bookingDomain.PaymentRefunded {
			already = true
			return nil
		}
		return s.refundLocked(ctx, bk, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{Booking: toBookingDTO(bk), AlreadyRefunded: already}, nil
}

func (s *BookingService) refundLocked(ctx context.Context, bk *bookingDomain.Booking, actor bookingDomain.Actor, reason string) error {
	now := s.now()
	if err := bk.CheckCancelWithRefund(actor, reason, now); err != nil {
		return err
	}

	from := pointOf(bk)
	var ref string
	if bk.TotalPriceCents() > 0 {
		req := gateway.RefundRequest{
			IdempotencyKey: bookingDomain.RefundKey(bk.ID(), bk.NextRefundAttempt()),
			BookingID:      bk.ID().String(),
			ChargeRef:      bk.ChargeRef(),
			AmountCents:    bk.TotalPriceCents(),
			Reason:         reason,
		}
		res, err := s.callGateway(ctx, "refund", func(ctx context.Context) (gateway.Result, error) {
			return s.gateway.Refund(ctx, req)
		})
		if err != nil {
			return domain.NewRefundFailedError(true, err)
		}
		switch res.Outcome {
		case gateway.OutcomeFailed:
			bk.RefundRejected(s.now())
			if err := s.commit(ctx, bk, from, actor, "refund_failed"); err != nil {
				return err
			}
			return domain.NewRefundFailedError(false, fmt.Errorf("rejected: %s", res.Reason))
		case gateway.OutcomeUnknown:
			return domain.NewRefundFailedError(true, errInDoubt)
		}
		ref = res.Ref
	}

	if err := bk.CancelWithRefund(actor, reason, ref, s.now()); err != nil {
		return err
	}
	return s.commit(ctx, bk, from, actor, "refund")
}

// callGateway bounds fn with the gateway timeout and records its outcome.
func (s *BookingService) callGateway(
	ctx context.Context,
	op string,
	fn func(ctx context.Context) (gateway.Result, error),
) (gateway.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "gateway."+op)
	defer span.End()

	start := time.Now()
	res, err := fn(ctx)
	outcome := string(res.Outcome)
	if err != nil {
		outcome = string(gateway.OutcomeUnknown)
		span.RecordError(err)
	}
	s.metrics.ObserveGateway(op, outcome, time.Since(start))
	return res, err
}
