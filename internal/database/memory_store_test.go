package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var storeNow = time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

func seedRide(s *MemoryStore, seats int) uint {
	return s.PutRide(&models.Ride{
		DriverID:    1,
		Origin:      "Hostel A",
		Destination: "Library",
		DepartureAt: storeNow.Add(time.Hour),
		TotalSeats:  seats,
		Status:      models.RideStatusActive,
	})
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	rideID := seedRide(s, 2)
	boom := errors.New("boom")

	err := s.WithRide(context.Background(), rideID, storeNow, func(tx ledger.Tx, _ *models.Ride) error {
		require.NoError(t, tx.InsertBooking(&models.Booking{PassengerID: 7, Status: models.BookingStatusConfirmed}))
		ok, err := tx.ReserveSeat()
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	r, _ := s.Ride(rideID)
	assert.Equal(t, 0, r.SeatsTaken)
	assert.Empty(t, s.Bookings(rideID))
}

func TestMemoryStoreReserveSeat(t *testing.T) {
	s := NewMemoryStore()
	rideID := seedRide(s, 2)

	err := s.WithRide(context.Background(), rideID, storeNow, func(tx ledger.Tx, _ *models.Ride) error {
		for i := 0; i < 2; i++ {
			ok, err := tx.ReserveSeat()
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := tx.ReserveSeat()
		require.NoError(t, err)
		assert.False(t, ok)

		r, err := tx.Ride()
		require.NoError(t, err)
		assert.Equal(t, models.RideStatusFull, r.Status)
		return tx.ReleaseSeats(1)
	})
	require.NoError(t, err)

	r, _ := s.Ride(rideID)
	assert.Equal(t, 1, r.SeatsTaken)
	assert.Equal(t, models.RideStatusActive, r.Status)
	assert.Equal(t, storeNow, r.UpdatedAt)
}

func TestMemoryStoreDuplicateBooking(t *testing.T) {
	s := NewMemoryStore()
	rideID := seedRide(s, 3)
	s.PutBooking(&models.Booking{RideID: rideID, PassengerID: 7, Status: models.BookingStatusRejected})
	s.PutBooking(&models.Booking{RideID: rideID, PassengerID: 8, Status: models.BookingStatusPending})

	err := s.WithRide(context.Background(), rideID, storeNow, func(tx ledger.Tx, _ *models.Ride) error {
		require.NoError(t, tx.InsertBooking(&models.Booking{PassengerID: 7, Status: models.BookingStatusPending}))
		return tx.InsertBooking(&models.Booking{PassengerID: 8, Status: models.BookingStatusPending})
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateBooking)
	assert.Len(t, s.Bookings(rideID), 2)
}

func TestMemoryStoreCascadeReturnsPriorStatus(t *testing.T) {
	s := NewMemoryStore()
	rideID := seedRide(s, 3)
	s.PutBooking(&models.Booking{RideID: rideID, PassengerID: 7, Status: models.BookingStatusPending})
	s.PutBooking(&models.Booking{RideID: rideID, PassengerID: 8, Status: models.BookingStatusConfirmed})
	s.PutBooking(&models.Booking{RideID: rideID, PassengerID: 9, Status: models.BookingStatusRejected})

	var affected []models.Booking
	err := s.WithRide(context.Background(), rideID, storeNow, func(tx ledger.Tx, _ *models.Ride) error {
		var err error
		affected, err = tx.CascadeBookings(ledger.ActiveBookingStatuses(), models.BookingStatusCancelled)
		return err
	})
	require.NoError(t, err)
	require.Len(t, affected, 2)
	assert.Equal(t, models.BookingStatusPending, affected[0].Status)
	assert.Equal(t, models.BookingStatusConfirmed, affected[1].Status)

	for _, b := range s.Bookings(rideID) {
		if b.PassengerID == 9 {
			assert.Equal(t, models.BookingStatusRejected, b.Status)
			continue
		}
		assert.Equal(t, models.BookingStatusCancelled, b.Status)
	}
}

func lockCount(s *MemoryStore) int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.rideLocks)
}

func TestMemoryStoreForgetsLocksOfDeletedRides(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	kept := seedRide(s, 2)
	deleted := seedRide(s, 2)
	stale := s.PutRide(&models.Ride{
		DriverID:    1,
		Origin:      "Hostel B",
		Destination: "Stadium",
		DepartureAt: storeNow.Add(-48 * time.Hour),
		TotalSeats:  2,
		Status:      models.RideStatusExpired,
		Model:       gorm.Model{CreatedAt: storeNow.Add(-72 * time.Hour), UpdatedAt: storeNow.Add(-47 * time.Hour)},
	})

	for _, id := range []uint{kept, deleted, stale} {
		require.NoError(t, s.WithRide(ctx, id, storeNow, func(ledger.Tx, *models.Ride) error { return nil }))
	}
	assert.Equal(t, 3, lockCount(s))

	require.NoError(t, s.WithRide(ctx, deleted, storeNow, func(tx ledger.Tx, _ *models.Ride) error {
		_, err := tx.DeleteRide()
		return err
	}))
	assert.Equal(t, 2, lockCount(s))

	counts, err := s.DeleteStale(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Rides)
	assert.Equal(t, 1, lockCount(s))

	err = s.WithRide(ctx, deleted, storeNow, func(ledger.Tx, *models.Ride) error { return nil })
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 1, lockCount(s), "a missing ride leaves no mutex behind")
}

func TestMemoryStoreMissingRide(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithRide(context.Background(), 42, storeNow, func(ledger.Tx, *models.Ride) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.GetBooking(context.Background(), 42)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemoryStoreBlocksAreSymmetric(t *testing.T) {
	s := NewMemoryStore()
	s.Block(3, 4)
	for _, pair := range [][2]uint{{3, 4}, {4, 3}} {
		blocked, err := s.IsBlocked(context.Background(), pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, blocked)
	}
	blocked, err := s.IsBlocked(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.False(t, blocked)
}
