package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chachabrian/campusride-backend/internal/database"
	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	driverID uint = 1
	adminID  uint = 2
	alice    uint = 10
	bob      uint = 11
	carol    uint = 12
	dave     uint = 13
	erin     uint = 14
)

var (
	t0     = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	driver = ledger.Actor{UserID: driverID, IsDriver: true}
	admin  = ledger.Actor{UserID: adminID, IsAdmin: true}
)

func passenger(id uint) ledger.Actor { return ledger.Actor{UserID: id} }

type recorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recorder) Notify(_ context.Context, ev ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) count(kind ledger.EventKind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *database.MemoryStore
	svc    *ledger.Service
	clock  *ledger.FixedClock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  database.NewMemoryStore(),
		clock:  ledger.NewFixedClock(t0),
		events: &recorder{},
	}
	f.svc = ledger.NewService(f.store, ledger.Options{
		Notifier: f.events,
		Clock:    f.clock,
		Location: time.UTC,
	})
	return f
}

// openRide stores an active ride owned by driverID departing two days after t0.
func (f *fixture) openRide(seats int) uint {
	departure := t0.Add(48 * time.Hour)
	return f.store.PutRide(&models.Ride{
		DriverID:      driverID,
		Origin:        "Main Campus",
		Destination:   "Westlands",
		DepartureDate: departure.Format(models.DateLayout),
		DepartureTime: departure.Format(models.TimeLayout),
		DepartureAt:   departure,
		TotalSeats:    seats,
		PricePerSeat:  250,
		Status:        models.RideStatusActive,
	})
}

func (f *fixture) ride(t *testing.T, id uint) models.Ride {
	t.Helper()
	r, ok := f.store.Ride(id)
	require.True(t, ok, "ride %d missing", id)
	return r
}

func (f *fixture) request(t *testing.T, rideID, passengerID uint) *models.Booking {
	t.Helper()
	b, err := f.svc.RequestBooking(context.Background(), passenger(passengerID), rideID)
	require.NoError(t, err)
	return b
}

func (f *fixture) confirm(t *testing.T, rideID, passengerID uint) *models.Booking {
	t.Helper()
	b := f.request(t, rideID, passengerID)
	b, err := f.svc.ApproveBooking(context.Background(), driver, b.ID)
	require.NoError(t, err)
	return b
}

// assertSeats checks seats_taken against the bookings holding a seat and the full flag.
func (f *fixture) assertSeats(t *testing.T, rideID uint) {
	t.Helper()
	ride := f.ride(t, rideID)
	held := 0
	for _, b := range f.store.Bookings(rideID) {
		if b.Status.HoldsSeat() {
			held++
		}
	}
	assert.Equal(t, held, ride.SeatsTaken, "seats taken")
	assert.LessOrEqual(t, ride.SeatsTaken, ride.TotalSeats)
	if ride.IsOpen() {
		assert.Equal(t, ride.SeatsTaken == ride.TotalSeats, ride.Status == models.RideStatusFull, "full flag")
	}
}

func TestRequestBookingCreatesPending(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(3)

	b := f.request(t, rideID, alice)

	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, rideID, b.RideID)
	assert.Equal(t, alice, b.PassengerID)
	assert.Equal(t, 0, f.ride(t, rideID).SeatsTaken)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventBookingRequested, events[0].Kind)
	assert.Equal(t, driverID, events[0].RecipientID)
	assert.Equal(t, alice, events[0].CounterpartID)
	assert.Equal(t, b.ID, events[0].BookingID)
	f.assertSeats(t, rideID)
}

func TestRequestBookingRejectsOwnRide(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(3)

	_, err := f.svc.RequestBooking(context.Background(), driver, rideID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	assert.Empty(t, f.store.Bookings(rideID))
}

func TestRequestBookingBlocked(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(3)
	f.store.Block(driverID, alice)
	f.store.Block(bob, driverID)

	_, err := f.svc.RequestBooking(context.Background(), passenger(alice), rideID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = f.svc.RequestBooking(context.Background(), passenger(bob), rideID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	f.request(t, rideID, carol)
}

func TestRequestBookingSingleActivePerPassenger(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(3)
	ctx := context.Background()

	first := f.request(t, rideID, alice)
	_, err := f.svc.RequestBooking(ctx, passenger(alice), rideID)
	assert.ErrorIs(t, err, ledger.ErrDuplicateBooking)

	_, err = f.svc.ApproveBooking(ctx, driver, first.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestBooking(ctx, passenger(alice), rideID)
	assert.ErrorIs(t, err, ledger.ErrDuplicateBooking)

	_, err = f.svc.CancelBooking(ctx, passenger(alice), first.ID)
	require.NoError(t, err)
	again := f.request(t, rideID, alice)
	assert.NotEqual(t, first.ID, again.ID)

	active := 0
	for _, b := range f.store.Bookings(rideID) {
		if b.PassengerID == alice && !b.Status.IsTerminal() {
			active++
		}
	}
	assert.Equal(t, 1, active)
	f.assertSeats(t, rideID)
}

func TestRequestBookingRideUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("full", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(1)
		f.confirm(t, rideID, alice)
		_, err := f.svc.RequestBooking(ctx, passenger(bob), rideID)
		assert.ErrorIs(t, err, ledger.ErrRideUnavailable)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(2)
		_, err := f.svc.CancelRide(ctx, driver, rideID)
		require.NoError(t, err)
		_, err = f.svc.RequestBooking(ctx, passenger(bob), rideID)
		assert.ErrorIs(t, err, ledger.ErrRideUnavailable)
	})

	t.Run("departed", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(2)
		f.clock.Advance(49 * time.Hour)
		_, err := f.svc.RequestBooking(ctx, passenger(bob), rideID)
		assert.ErrorIs(t, err, ledger.ErrRideUnavailable)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RequestBooking(ctx, passenger(bob), 999)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestApproveBookingConsumesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(4)

	var pending []*models.Booking
	for _, p := range []uint{alice, bob, carol, dave, erin} {
		pending = append(pending, f.request(t, rideID, p))
	}

	for i := 0; i < 3; i++ {
		b, err := f.svc.ApproveBooking(ctx, driver, pending[i].ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	}
	r := f.ride(t, rideID)
	assert.Equal(t, 3, r.SeatsTaken)
	assert.Equal(t, models.RideStatusActive, r.Status)

	_, err := f.svc.ApproveBooking(ctx, driver, pending[3].ID)
	require.NoError(t, err)
	r = f.ride(t, rideID)
	assert.Equal(t, 4, r.SeatsTaken)
	assert.Equal(t, models.RideStatusFull, r.Status)

	_, err = f.svc.ApproveBooking(ctx, driver, pending[4].ID)
	assert.ErrorIs(t, err, ledger.ErrCapacityExceeded)
	left, err := f.store.GetBooking(ctx, pending[4].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, left.Status)

	assert.Equal(t, 4, f.events.count(ledger.EventBookingConfirmed))
	f.assertSeats(t, rideID)
}

func TestApproveBookingGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	b := f.request(t, rideID, alice)

	_, err := f.svc.ApproveBooking(ctx, passenger(alice), b.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = f.svc.ApproveBooking(ctx, admin, b.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.svc.ApproveBooking(ctx, driver, b.ID)
	require.NoError(t, err)
	_, err = f.svc.ApproveBooking(ctx, driver, b.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	_, err = f.svc.ApproveBooking(ctx, driver, 4242)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, 1, f.ride(t, rideID).SeatsTaken)
	f.assertSeats(t, rideID)
}

func TestApproveBookingLastSeatRace(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		ctx := context.Background()
		rideID := f.openRide(1)
		a := f.request(t, rideID, alice)
		b := f.request(t, rideID, bob)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []uint{a.ID, b.ID} {
			wg.Add(1)
			go func(i int, id uint) {
				defer wg.Done()
				_, errs[i] = f.svc.ApproveBooking(ctx, driver, id)
			}(i, id)
		}
		wg.Wait()

		ok, capacity := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ledger.ErrCapacityExceeded):
				capacity++
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, capacity)

		r := f.ride(t, rideID)
		assert.Equal(t, 1, r.SeatsTaken)
		assert.Equal(t, models.RideStatusFull, r.Status)
		f.assertSeats(t, rideID)
	}
}

func TestRejectBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	b := f.request(t, rideID, alice)
	f.events.reset()

	_, err := f.svc.RejectBooking(ctx, passenger(alice), b.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	got, err := f.svc.RejectBooking(ctx, driver, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, got.Status)
	assert.Equal(t, 0, f.ride(t, rideID).SeatsTaken)

	_, err = f.svc.RejectBooking(ctx, driver, b.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventBookingRejected, events[0].Kind)
	assert.Equal(t, alice, events[0].RecipientID)
}

func TestCancelConfirmedBookingReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	a := f.confirm(t, rideID, alice)
	f.confirm(t, rideID, bob)
	require.Equal(t, models.RideStatusFull, f.ride(t, rideID).Status)
	f.events.reset()

	got, err := f.svc.CancelBooking(ctx, passenger(alice), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, got.Status)

	r := f.ride(t, rideID)
	assert.Equal(t, 1, r.SeatsTaken)
	assert.Equal(t, models.RideStatusActive, r.Status)
	f.assertSeats(t, rideID)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventBookingCancelled, events[0].Kind)
	assert.Equal(t, driverID, events[0].RecipientID)

	_, err = f.svc.CancelBooking(ctx, passenger(alice), a.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestCancelPendingBookingByDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	b := f.request(t, rideID, alice)
	f.events.reset()

	_, err := f.svc.CancelBooking(ctx, passenger(bob), b.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.svc.CancelBooking(ctx, driver, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.ride(t, rideID).SeatsTaken)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, alice, events[0].RecipientID)
	assert.Equal(t, driverID, events[0].CounterpartID)
}

func TestBookingMutationsRefusedOnClosedRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(3)
	confirmed := f.confirm(t, rideID, alice)
	pending := f.request(t, rideID, bob)

	_, err := f.svc.CompleteRide(ctx, driver, rideID)
	require.NoError(t, err)

	_, err = f.svc.ApproveBooking(ctx, driver, pending.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = f.svc.CancelBooking(ctx, passenger(alice), confirmed.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	// a request left pending on a finished ride can still be withdrawn
	got, err := f.svc.CancelBooking(ctx, passenger(bob), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, got.Status)
	f.assertSeats(t, rideID)
}
