package ledger

import (
	"context"
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
)

var (
	openRideStatuses    = []models.RideStatus{models.RideStatusActive, models.RideStatusFull}
	activeBookingStatus = []models.BookingStatus{models.BookingStatusPending, models.BookingStatusConfirmed}
)

// OpenRideStatuses are the statuses in which a ride accepts booking mutations.
func OpenRideStatuses() []models.RideStatus {
	return append([]models.RideStatus(nil), openRideStatuses...)
}

// ActiveBookingStatuses are the non-terminal booking statuses.
func ActiveBookingStatuses() []models.BookingStatus {
	return append([]models.BookingStatus(nil), activeBookingStatus...)
}

// Store is the persistence contract of the ledger. Implementations must make every
// WithRide unit atomic and serialised against other units on the same ride.
type Store interface {
	// WithRide locks rideID for the duration of fn and commits all writes made through
	// tx when fn returns nil. Returns ErrNotFound if the ride does not exist.
	WithRide(ctx context.Context, rideID uint, now time.Time, fn func(tx Tx, ride *models.Ride) error) error

	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	CreateRide(ctx context.Context, ride *models.Ride) error
	IsBlocked(ctx context.Context, a, b uint) (bool, error)

	SweepStore
}

// Tx is scoped to the ride locked by Store.WithRide.
type Tx interface {
	// Ride re-reads the locked ride including writes made in this unit.
	Ride() (*models.Ride, error)

	FindBooking(id uint) (*models.Booking, error)
	// ActiveBooking returns the passenger's pending or confirmed booking, or nil.
	ActiveBooking(passengerID uint) (*models.Booking, error)
	CountBookings(statuses ...models.BookingStatus) (int64, error)
	// InsertBooking returns ErrDuplicateBooking if the pair already holds an active booking.
	InsertBooking(b *models.Booking) error
	// SetBookingStatus moves the booking to `to` only if it is currently in one of `from`.
	SetBookingStatus(id uint, from []models.BookingStatus, to models.BookingStatus) (bool, error)
	// CascadeBookings moves every booking of the ride in `from` to `to` and returns the
	// affected bookings as they were before the update.
	CascadeBookings(from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error)

	// ReserveSeat increments seats_taken if the ride is open and below capacity, flipping
	// status to full when the last seat is taken. Returns false when no seat was available.
	ReserveSeat() (bool, error)
	// ReleaseSeats decrements seats_taken by n (floor 0) and reverts full to active.
	ReleaseSeats(n int) error
	// SetRideStatus moves the ride to `to` only if it is currently in one of `from`.
	SetRideStatus(from []models.RideStatus, to models.RideStatus) (bool, error)
	// SaveRideDetails persists the editable fields plus total_seats and status.
	SaveRideDetails(ride *models.Ride) error
	// DeleteRide hard-deletes the ride and its bookings, messages and reviews.
	DeleteRide() (DeleteCounts, error)
}

// SweepStore holds the bulk operations used by the cleanup sweep.
type SweepStore interface {
	// MarkExpired moves open rides that departed before departedBefore to expired.
	MarkExpired(ctx context.Context, departedBefore, now time.Time) (int64, error)
	// DeleteStale hard-deletes expired rides last updated before updatedBefore.
	DeleteStale(ctx context.Context, updatedBefore time.Time) (DeleteCounts, error)
}

type DeleteCounts struct {
	Rides    int64 `json:"rides"`
	Bookings int64 `json:"bookings"`
	Messages int64 `json:"messages"`
	Reviews  int64 `json:"reviews"`
}

func (c *DeleteCounts) Add(o DeleteCounts) {
	c.Rides += o.Rides
	c.Bookings += o.Bookings
	c.Messages += o.Messages
	c.Reviews += o.Reviews
}
