package ledger_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() ledger.RideInput {
	return ledger.RideInput{
		Origin:        " Main Campus ",
		Destination:   "CBD",
		DepartureDate: "2026-03-03",
		DepartureTime: "07:30",
		TotalSeats:    3,
		PricePerSeat:  200,
	}
}

func TestCreateRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ride, err := f.svc.CreateRide(ctx, driver, validInput())
	require.NoError(t, err)
	assert.NotZero(t, ride.ID)
	assert.Equal(t, "Main Campus", ride.Origin)
	assert.Equal(t, models.RideStatusActive, ride.Status)
	assert.Equal(t, 0, ride.SeatsTaken)
	assert.Equal(t, time.Date(2026, time.March, 3, 7, 30, 0, 0, time.UTC), ride.DepartureAt)

	stored := f.ride(t, ride.ID)
	assert.Equal(t, driverID, stored.DriverID)
}

func TestCreateRideRequiresDriver(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRide(context.Background(), passenger(alice), validInput())
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.svc.CreateRide(context.Background(), admin, validInput())
	assert.NoError(t, err)
}

func TestCreateRideValidation(t *testing.T) {
	lat, lng := -1.28, 36.82
	tests := []struct {
		name  string
		mut   func(*ledger.RideInput)
		field string
	}{
		{"no seats", func(in *ledger.RideInput) { in.TotalSeats = 0 }, "totalSeats"},
		{"too many seats", func(in *ledger.RideInput) { in.TotalSeats = 8 }, "totalSeats"},
		{"negative price", func(in *ledger.RideInput) { in.PricePerSeat = -1 }, "pricePerSeat"},
		{"price cap", func(in *ledger.RideInput) { in.PricePerSeat = models.MaxPricePerSeat + 1 }, "pricePerSeat"},
		{"blank origin", func(in *ledger.RideInput) { in.Origin = "   " }, "origin"},
		{"long destination", func(in *ledger.RideInput) { in.Destination = strings.Repeat("x", 201) }, "destination"},
		{"long notes", func(in *ledger.RideInput) { in.Notes = strings.Repeat("n", models.MaxNotesLength+1) }, "notes"},
		{"bad date", func(in *ledger.RideInput) { in.DepartureDate = "03/03/2026" }, "departureDate"},
		{"bad time", func(in *ledger.RideInput) { in.DepartureTime = "7.30pm" }, "departureTime"},
		{"past", func(in *ledger.RideInput) { in.DepartureDate = "2026-03-01" }, "departureDate"},
		{"half coordinate", func(in *ledger.RideInput) { in.OriginLat = &lat }, "origin"},
		{"bad coordinate", func(in *ledger.RideInput) {
			bad := 91.0
			in.DestinationLat, in.DestinationLng = &bad, &lng
		}, "destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tt.mut(&in)
			_, err := f.svc.CreateRide(context.Background(), driver, in)
			require.ErrorIs(t, err, ledger.ErrValidation)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestUpdateRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(3)
	f.confirm(t, rideID, alice)
	f.confirm(t, rideID, bob)

	seats := 1
	_, err := f.svc.UpdateRide(ctx, driver, rideID, ledger.RideUpdate{TotalSeats: &seats})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.UpdateRide(ctx, passenger(alice), rideID, ledger.RideUpdate{TotalSeats: &seats})
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	seats = 2
	notes := "pickup at gate B"
	got, err := f.svc.UpdateRide(ctx, driver, rideID, ledger.RideUpdate{TotalSeats: &seats, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusFull, got.Status)
	assert.Equal(t, 2, got.SeatsTaken)
	assert.Equal(t, notes, got.Notes)

	seats = 4
	got, err = f.svc.UpdateRide(ctx, admin, rideID, ledger.RideUpdate{TotalSeats: &seats})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusActive, got.Status)
	f.assertSeats(t, rideID)

	past := "2026-03-01"
	_, err = f.svc.UpdateRide(ctx, driver, rideID, ledger.RideUpdate{DepartureDate: &past})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, t0.Add(48*time.Hour), f.ride(t, rideID).DepartureAt)
}

func TestCancelRideCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(3)
	a := f.confirm(t, rideID, alice)
	f.confirm(t, rideID, bob)
	f.request(t, rideID, carol)
	f.events.reset()

	_, err := f.svc.CancelRide(ctx, passenger(alice), rideID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	ride, err := f.svc.CancelRide(ctx, driver, rideID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, ride.Status)
	assert.Equal(t, 0, ride.SeatsTaken)

	for _, bk := range f.store.Bookings(rideID) {
		assert.Equal(t, models.BookingStatusCancelled, bk.Status, "booking %d", bk.ID)
	}
	f.assertSeats(t, rideID)

	recipients := map[uint]bool{}
	for _, ev := range f.events.all() {
		assert.Equal(t, ledger.EventRideCancelled, ev.Kind)
		recipients[ev.RecipientID] = true
	}
	assert.Equal(t, map[uint]bool{driverID: true, alice: true, bob: true, carol: true}, recipients)
	assert.Len(t, f.events.all(), 4)

	_, err = f.svc.CancelRide(ctx, driver, rideID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = f.svc.CancelBooking(ctx, passenger(alice), a.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestCancelRideByAdmin(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(2)
	ride, err := f.svc.CancelRide(context.Background(), admin, rideID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, ride.Status)
}

func TestCompleteRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	f.confirm(t, rideID, alice)
	f.confirm(t, rideID, bob)
	pending := f.request(t, rideID, carol)
	f.events.reset()

	ride, err := f.svc.CompleteRide(ctx, driver, rideID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, ride.Status)
	assert.Equal(t, 2, ride.SeatsTaken)

	for _, bk := range f.store.Bookings(rideID) {
		if bk.ID == pending.ID {
			assert.Equal(t, models.BookingStatusPending, bk.Status)
			continue
		}
		assert.Equal(t, models.BookingStatusCompleted, bk.Status)
	}
	f.assertSeats(t, rideID)

	assert.Equal(t, 2, f.events.count(ledger.EventRideCompleted))
	assert.Equal(t, 4, f.events.count(ledger.EventRatingRequested))
	var driverRatesAlice, aliceRatesDriver bool
	for _, ev := range f.events.all() {
		if ev.Kind != ledger.EventRatingRequested {
			continue
		}
		if ev.RecipientID == driverID && ev.CounterpartID == alice {
			driverRatesAlice = true
		}
		if ev.RecipientID == alice && ev.CounterpartID == driverID {
			aliceRatesDriver = true
		}
	}
	assert.True(t, driverRatesAlice)
	assert.True(t, aliceRatesDriver)

	_, err = f.svc.CompleteRide(ctx, driver, rideID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = f.svc.CancelRide(ctx, driver, rideID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestDeleteRide(t *testing.T) {
	ctx := context.Background()

	t.Run("refused with confirmed passengers", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(2)
		f.confirm(t, rideID, alice)

		_, err := f.svc.DeleteRide(ctx, driver, rideID)
		assert.ErrorIs(t, err, ledger.ErrInvalidState)
		_, ok := f.store.Ride(rideID)
		assert.True(t, ok)
	})

	t.Run("cancels pending and removes rows", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(2)
		b := f.request(t, rideID, alice)
		rid := rideID
		f.store.AddMessage(&models.Message{SenderID: alice, ReceiverID: driverID, RideID: &rid, Content: "hi"})
		f.events.reset()

		_, err := f.svc.DeleteRide(ctx, passenger(alice), rideID)
		assert.ErrorIs(t, err, ledger.ErrForbidden)

		counts, err := f.svc.DeleteRide(ctx, driver, rideID)
		require.NoError(t, err)
		assert.Equal(t, ledger.DeleteCounts{Rides: 1, Bookings: 1, Messages: 1}, counts)
		_, ok := f.store.Ride(rideID)
		assert.False(t, ok)
		assert.Equal(t, ledger.DeleteCounts{}, f.store.Counts(rideID))

		events := f.events.all()
		require.Len(t, events, 1)
		assert.Equal(t, ledger.EventRideCancelled, events[0].Kind)
		assert.Equal(t, alice, events[0].RecipientID)
		assert.Equal(t, b.ID, events[0].BookingID)

		_, err = f.svc.GetRide(ctx, rideID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}
