package application

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// step is one caller action against a single booking. Faults that lose a
// refund or payout response are left out: those need operator reconciliation.
type step func(f *fixture, id uuid.UUID) error

func propertySteps() []step {
	admin := bookingDomain.AdminActor(uuid.New())
	cancel := func(f *fixture, id uuid.UUID, actor bookingDomain.Actor) error {
		_, err := f.svc.UpdateBookingStatus(f.ctx, id, actor, UpdateStatusRequest{Status: "cancelled", Reason: "changed plans"})
		return err
	}
	hold := func(f *fixture, id uuid.UUID) error {
		_, err := f.svc.AuthorizeAndHold(f.ctx, id, f.ownerActor())
		return err
	}
	release := func(f *fixture, id uuid.UUID) error {
		_, err := f.svc.ReleasePayment(f.ctx, id, bookingDomain.SystemActor, false)
		return err
	}
	return []step{
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.UpdateBookingStatus(f.ctx, id, f.sitterActor(), UpdateStatusRequest{Status: "confirmed"})
			return err
		},
		hold,
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpCapture, gateway.FaultTimeout); return hold(f, id) },
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpCapture, gateway.FaultLostResponse); return hold(f, id) },
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpCapture, gateway.FaultReject); return hold(f, id) },
		func(f *fixture, id uuid.UUID) error { return f.svc.ReconcileCapture(f.ctx, id) },
		func(f *fixture, id uuid.UUID) error { f.clock.Advance(25 * time.Hour); return f.svc.StartIfDue(f.ctx, id) },
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.UpdateBookingStatus(f.ctx, id, f.sitterActor(), UpdateStatusRequest{Status: "in_progress"})
			return err
		},
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.MarkServiceCompleted(f.ctx, id, f.sitterActor())
			return err
		},
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.ConfirmServiceCompletion(f.ctx, id, f.ownerActor())
			return err
		},
		func(f *fixture, id uuid.UUID) error { return f.svc.HandleConfirmationTimeout(f.ctx, id, true) },
		func(f *fixture, id uuid.UUID) error { f.clock.Advance(73 * time.Hour); return nil },
		release,
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpPayout, gateway.FaultTimeout); return release(f, id) },
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpPayout, gateway.FaultReject); return release(f, id) },
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.ReleasePayment(f.ctx, id, f.ownerActor(), true)
			return err
		},
		func(f *fixture, id uuid.UUID) error { return cancel(f, id, f.ownerActor()) },
		func(f *fixture, id uuid.UUID) error { return cancel(f, id, f.sitterActor()) },
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpRefund, gateway.FaultTimeout); return cancel(f, id, f.ownerActor()) },
		func(f *fixture, id uuid.UUID) error { f.gw.Inject(gateway.OpRefund, gateway.FaultReject); return cancel(f, id, f.ownerActor()) },
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.OpenDispute(f.ctx, id, f.ownerActor(), "not as agreed")
			return err
		},
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.ResolveDispute(f.ctx, id, admin, ResolveRelease, "")
			return err
		},
		func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.ResolveDispute(f.ctx, id, admin, ResolveRefund, "")
			return err
		},
		func(f *fixture, id uuid.UUID) error { return f.svc.RecordReleaseFailure(f.ctx, id, fmt.Errorf("payout rail down")) },
	}
}

// checkLedger compares the stored booking with the money the sandbox moved.
func checkLedger(f *fixture, bk *bookingDomain.Booking) error {
	if err := bk.CheckInvariants(); err != nil {
		return err
	}
	payouts, refunds := f.gw.Applied(gateway.OpPayout), f.gw.Applied(gateway.OpRefund)
	if f.gw.Applied(gateway.OpCapture) > 1 {
		return fmt.Errorf("captured %d times", f.gw.Applied(gateway.OpCapture))
	}
	if payouts+refunds > 1 {
		return fmt.Errorf("%d payouts and %d refunds", payouts, refunds)
	}
	if bk.TotalPriceCents() == 0 {
		if payouts+refunds+f.gw.Calls(gateway.OpCapture) != 0 {
			return fmt.Errorf("zero-priced booking reached the gateway")
		}
		return nil
	}
	switch bk.PaymentStatus() {
	case bookingDomain.PaymentReleased:
		if payouts != 1 || f.gw.AppliedAmount(gateway.OpPayout) != bk.PayoutCents() {
			return fmt.Errorf("released without a matching payout")
		}
	case bookingDomain.PaymentRefunded:
		if refunds != 1 || f.gw.AppliedAmount(gateway.OpRefund) != bk.TotalPriceCents() {
			return fmt.Errorf("refunded without a matching refund")
		}
	default:
		if payouts+refunds != 0 {
			return fmt.Errorf("money moved out while payment is %s", bk.PaymentStatus())
		}
	}
	return nil
}

func TestEscrowProperty_LedgerMatchesGateway(t *testing.T) {
	steps := propertySteps()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stored state and moved money agree after every step", prop.ForAll(
		func(price int64, ops []int) string {
			f := newFixture(t)
			id := f.create(price)
			prev := f.load(id)

			for i, op := range ops {
				err := steps[op](f, id)
				if err != nil && domain.CodeOf(err) == domain.CodeInternal {
					return fmt.Sprintf("step %d (op %d): %v", i, op, err)
				}
				bk := f.load(id)
				if err := checkLedger(f, bk); err != nil {
					return fmt.Sprintf("step %d (op %d): %v", i, op, err)
				}
				if prev.PaymentStatus().IsSettled() && bk.PaymentStatus() != prev.PaymentStatus() {
					return fmt.Sprintf("step %d (op %d): settled payment moved from %s to %s",
						i, op, prev.PaymentStatus(), bk.PaymentStatus())
				}
				if prev.Status().IsTerminal() && bk.Status() != prev.Status() {
					return fmt.Sprintf("step %d (op %d): left terminal status", i, op)
				}
				if bk.Version() < prev.Version() {
					return fmt.Sprintf("step %d (op %d): version went backwards", i, op)
				}
				prev = bk
			}
			return ""
		},
		gen.OneConstOf(int64(0), int64(1), int64(20000), int64(99999)),
		gen.SliceOf(gen.IntRange(0, len(steps)-1)),
	))

	properties.TestingRun(t)
}
