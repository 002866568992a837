package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/lock"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []TransitionEvent
	reminders   []ReminderEvent
	err         error
}

func (n *recordingNotifier) BookingTransitioned(_ context.Context, evt TransitionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, evt)
	return n.err
}

func (n *recordingNotifier) ConfirmationReminder(_ context.Context, evt ReminderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, evt)
	return n.err
}

func (n *recordingNotifier) operations(id uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ops []string
	for _, evt := range n.transitions {
		if evt.BookingID == id {
			ops = append(ops, evt.Operation)
		}
	}
	return ops
}

// flakyRepository fails Update while failUpdates is set.
type flakyRepository struct {
	*repository.MemoryBookingRepository
	mu          sync.Mutex
	failUpdates bool
}

func (r *flakyRepository) setFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdates = v
}

func (r *flakyRepository) Update(ctx context.Context, bk *bookingDomain.Booking) error {
	r.mu.Lock()
	fail := r.failUpdates
	r.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	return r.MemoryBookingRepository.Update(ctx, bk)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	svc    *BookingService
	repo   *flakyRepository
	gw     *gateway.Sandbox
	notes  *recordingNotifier
	clock  *fakeClock
	owner  uuid.UUID
	sitter uuid.UUID
}

var baseTime = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	commission, err := bookingDomain.NewRateCommission(bookingDomain.DefaultCommissionBasisPoints)
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		repo:   &flakyRepository{MemoryBookingRepository: repository.NewMemoryBookingRepository()},
		gw:     gateway.NewSandbox(),
		notes:  &recordingNotifier{},
		clock:  &fakeClock{now: baseTime},
		owner:  uuid.New(),
		sitter: uuid.New(),
	}
	f.svc = NewBookingService(f.repo, f.gw, lock.NewLocalLocker(), commission, f.notes, zap.NewNop(),
		WithClock(f.clock.Now))
	return f
}

func (f *fixture) ownerActor() bookingDomain.Actor  { return bookingDomain.UserActor(f.owner) }
func (f *fixture) sitterActor() bookingDomain.Actor { return bookingDomain.UserActor(f.sitter) }

func (f *fixture) create(priceCents int64) uuid.UUID {
	f.t.Helper()
	now := f.clock.Now()
	dto, err := f.svc.CreateBooking(f.ctx, f.ownerActor(), CreateBookingRequest{
		SitterID:         f.sitter,
		PetID:            uuid.New(),
		ServiceType:      string(bookingDomain.ServiceBoarding),
		StartTime:        now.Add(24 * time.Hour),
		EndTime:          now.Add(72 * time.Hour),
		TotalPriceCents:  priceCents,
		PaymentMethodRef: "tokn_test",
	})
	require.NoError(f.t, err)
	return dto.ID
}

func (f *fixture) accept(id uuid.UUID) {
	f.t.Helper()
	_, err := f.svc.UpdateBookingStatus(f.ctx, id, f.sitterActor(), UpdateStatusRequest{
		Status:             string(bookingDomain.StatusConfirmed),
		PayoutRecipientRef: "recp_test",
	})
	require.NoError(f.t, err)
}

func (f *fixture) hold(id uuid.UUID) {
	f.t.Helper()
	_, err := f.svc.AuthorizeAndHold(f.ctx, id, f.ownerActor())
	require.NoError(f.t, err)
}

func (f *fixture) complete(id uuid.UUID) {
	f.t.Helper()
	_, err := f.svc.MarkServiceCompleted(f.ctx, id, f.sitterActor())
	require.NoError(f.t, err)
}

func (f *fixture) confirm(id uuid.UUID) {
	f.t.Helper()
	_, err := f.svc.ConfirmServiceCompletion(f.ctx, id, f.ownerActor())
	require.NoError(f.t, err)
}

// held creates a confirmed booking with funds in escrow.
func (f *fixture) held(priceCents int64) uuid.UUID {
	f.t.Helper()
	id := f.create(priceCents)
	f.accept(id)
	f.hold(id)
	return id
}

// releasable creates a confirmed completion whose hold window has passed.
func (f *fixture) releasable(priceCents int64) uuid.UUID {
	f.t.Helper()
	id := f.held(priceCents)
	f.complete(id)
	f.confirm(id)
	f.clock.Advance(DefaultConfig().HoldWindow)
	return id
}

func (f *fixture) load(id uuid.UUID) *bookingDomain.Booking {
	f.t.Helper()
	bk, err := f.repo.FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return bk
}
