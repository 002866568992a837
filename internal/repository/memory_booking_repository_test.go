package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	bk := sampleBooking(t)

	require.NoError(t, repo.Save(ctx, bk))
	assert.ErrorIs(t, repo.Save(ctx, bk), domain.ErrConflict)

	got, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	assert.Equal(t, bk.Snapshot(), got.Snapshot())

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	bk := sampleBooking(t)
	require.NoError(t, repo.Save(ctx, bk))

	got, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	require.NoError(t, got.Cancel(bookingDomain.UserActor(got.OwnerID()), "changed plans", time.Now()))

	again, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	assert.Equal(t, bookingDomain.StatusRequested, again.Status())
}

func TestMemoryRepository_UpdateVersionRule(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	bk := sampleBooking(t)
	require.NoError(t, repo.Save(ctx, bk))

	first, _ := repo.FindByID(ctx, bk.ID())
	second, _ := repo.FindByID(ctx, bk.ID())

	first.IncrementVersion()
	require.NoError(t, repo.Update(ctx, first))

	second.IncrementVersion()
	assert.ErrorIs(t, repo.Update(ctx, second), domain.ErrConflict)

	stored, _ := repo.FindByID(ctx, bk.ID())
	assert.Equal(t, int64(2), stored.Version())
	assert.Equal(t, 2, repo.Writes())

	missing := sampleBooking(t)
	missing.IncrementVersion()
	assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrNotFound)
}

func TestMemoryRepository_Pagination(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	owner := uuid.New()
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		bk, err := bookingDomain.NewBooking(bookingDomain.NewBookingParams{
			OwnerID:         owner,
			SitterID:        uuid.New(),
			PetID:           uuid.New(),
			ServiceType:     bookingDomain.ServiceWalk,
			StartTime:       now.Add(time.Hour),
			EndTime:         now.Add(2 * time.Hour),
			TotalPriceCents: 3000,
		}, now)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, bk))
	}
	require.NoError(t, repo.Save(ctx, sampleBooking(t)))

	page, total, err := repo.FindByOwnerID(ctx, owner, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt().After(page[1].CreatedAt()))

	last, _, err := repo.FindByOwnerID(ctx, owner, 3, 2)
	require.NoError(t, err)
	assert.Len(t, last, 1)

	beyond, _, err := repo.FindByOwnerID(ctx, owner, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	all, total, err := repo.ListAll(ctx, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, all, 6)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), counts["requested"])
}

func TestMemoryRepository_DueForReleaseSkipsUnconfirmed(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	due, err := repo.FindDueForRelease(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.Save(ctx, sampleBooking(t)))
	due, err = repo.FindDueForRelease(ctx, now.Add(365*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	start, err := repo.FindDueToStart(ctx, now.Add(365*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, start, "requested bookings are not started")
}

func TestMemoryRepository_DueToStartRequiresHeldPayment(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	bk := sampleBooking(t)
	policy, err := bookingDomain.NewRateCommission(1500)
	require.NoError(t, err)
	require.NoError(t, bk.Accept(bookingDomain.UserActor(bk.SitterID()), "recp_1", policy, now))
	require.NoError(t, repo.Save(ctx, bk))

	later := now.Add(2 * time.Hour)
	start, err := repo.FindDueToStart(ctx, later, 10)
	require.NoError(t, err)
	assert.Empty(t, start, "confirmed but unpaid")

	_, err = bk.BeginCapture(bookingDomain.UserActor(bk.OwnerID()), now)
	require.NoError(t, err)
	require.NoError(t, bk.CaptureSucceeded("chrg_1", now))
	bk.IncrementVersion()
	require.NoError(t, repo.Update(ctx, bk))

	start, err = repo.FindDueToStart(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, start, 1)
	assert.Equal(t, bk.ID(), start[0].ID())
}
