package ledger

import (
	"context"
	"fmt"

	"github.com/chachabrian/campusride-backend/internal/models"
)

func canManageRide(actor Actor, ride *models.Ride) bool {
	return actor.IsAdmin || ride.DriverID == actor.UserID
}

// CreateRide validates the input and stores a new active ride for the acting driver.
func (s *Service) CreateRide(ctx context.Context, actor Actor, in RideInput) (_ *models.Ride, err error) {
	defer func() { s.observe("create_ride", err) }()

	if !actor.IsDriver && !actor.IsAdmin {
		return nil, fmt.Errorf("%w: only drivers can post rides", ErrForbidden)
	}
	ride, err := in.Build(actor.UserID, s.clock.Now(), s.loc)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// UpdateRide applies a partial update to an open ride.
func (s *Service) UpdateRide(ctx context.Context, actor Actor, rideID uint, upd RideUpdate) (_ *models.Ride, err error) {
	defer func() { s.observe("update_ride", err) }()

	now := s.clock.Now()
	var updated *models.Ride
	err = s.store.WithRide(ctx, rideID, now, func(tx Tx, ride *models.Ride) error {
		if !canManageRide(actor, ride) {
			return fmt.Errorf("%w: not your ride", ErrForbidden)
		}
		if !ride.IsOpen() {
			return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, ride.ID, ride.Status)
		}
		if err := upd.Apply(ride, now, s.loc); err != nil {
			return err
		}
		if err := tx.SaveRideDetails(ride); err != nil {
			return err
		}
		var err error
		updated, err = tx.Ride()
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRide removes a ride that has no confirmed passengers. Pending requests are
// cancelled and their passengers told.
func (s *Service) DeleteRide(ctx context.Context, actor Actor, rideID uint) (_ DeleteCounts, err error) {
	defer func() { s.observe("delete_ride", err) }()

	var (
		counts  DeleteCounts
		ride    *models.Ride
		pending []models.Booking
	)
	err = s.store.WithRide(ctx, rideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		if !canManageRide(actor, locked) {
			return fmt.Errorf("%w: not your ride", ErrForbidden)
		}
		confirmed, err := tx.CountBookings(models.BookingStatusConfirmed)
		if err != nil {
			return err
		}
		if confirmed > 0 {
			return fmt.Errorf("%w: ride %d has %d confirmed passengers, cancel it instead", ErrInvalidState, locked.ID, confirmed)
		}
		if locked.IsOpen() {
			pending, err = tx.CascadeBookings([]models.BookingStatus{models.BookingStatusPending}, models.BookingStatusCancelled)
			if err != nil {
				return err
			}
		}
		counts, err = tx.DeleteRide()
		ride = locked
		return err
	})
	if err != nil {
		return DeleteCounts{}, err
	}

	for _, b := range pending {
		ev := s.event(EventRideCancelled, ride, actor.UserID, b.PassengerID)
		ev.BookingID = b.ID
		s.emit(ctx, ev)
	}
	return counts, nil
}

// CancelRide takes an open ride out of service and cancels every pending and confirmed
// booking on it. Seats held by confirmed bookings are released with them.
func (s *Service) CancelRide(ctx context.Context, actor Actor, rideID uint) (_ *models.Ride, err error) {
	defer func() { s.observe("cancel_ride", err) }()

	var (
		ride     *models.Ride
		affected []models.Booking
	)
	err = s.store.WithRide(ctx, rideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		if !canManageRide(actor, locked) {
			return fmt.Errorf("%w: only the driver or an admin can cancel this ride", ErrForbidden)
		}
		if !locked.IsOpen() {
			return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, locked.ID, locked.Status)
		}
		var err error
		affected, err = tx.CascadeBookings(ActiveBookingStatuses(), models.BookingStatusCancelled)
		if err != nil {
			return err
		}
		held := 0
		for _, b := range affected {
			if b.Status == models.BookingStatusConfirmed {
				held++
			}
		}
		if err := tx.ReleaseSeats(held); err != nil {
			return err
		}
		moved, err := tx.SetRideStatus(OpenRideStatuses(), models.RideStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: ride %d changed concurrently", ErrInvalidState, locked.ID)
		}
		ride, err = tx.Ride()
		return err
	})
	if err != nil {
		return nil, err
	}

	events := []Event{s.event(EventRideCancelled, ride, actor.UserID, ride.DriverID)}
	for _, b := range affected {
		ev := s.event(EventRideCancelled, ride, actor.UserID, b.PassengerID)
		ev.BookingID = b.ID
		ev.CounterpartID = ride.DriverID
		events = append(events, ev)
	}
	s.emit(ctx, events...)
	return ride, nil
}

// CompleteRide marks an open ride completed and moves its confirmed bookings to
// completed. Both sides of every completed booking are asked to rate each other.
func (s *Service) CompleteRide(ctx context.Context, actor Actor, rideID uint) (_ *models.Ride, err error) {
	defer func() { s.observe("complete_ride", err) }()

	var (
		ride      *models.Ride
		completed []models.Booking
	)
	err = s.store.WithRide(ctx, rideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		if !canManageRide(actor, locked) {
			return fmt.Errorf("%w: only the driver or an admin can complete this ride", ErrForbidden)
		}
		if !locked.IsOpen() {
			return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, locked.ID, locked.Status)
		}
		moved, err := tx.SetRideStatus(OpenRideStatuses(), models.RideStatusCompleted)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: ride %d changed concurrently", ErrInvalidState, locked.ID)
		}
		completed, err = tx.CascadeBookings([]models.BookingStatus{models.BookingStatusConfirmed}, models.BookingStatusCompleted)
		if err != nil {
			return err
		}
		ride, err = tx.Ride()
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(completed)*3)
	for _, b := range completed {
		done := s.event(EventRideCompleted, ride, actor.UserID, b.PassengerID)
		done.BookingID = b.ID
		done.CounterpartID = ride.DriverID

		ratePassenger := s.event(EventRatingRequested, ride, actor.UserID, ride.DriverID)
		ratePassenger.BookingID = b.ID
		ratePassenger.CounterpartID = b.PassengerID

		rateDriver := s.event(EventRatingRequested, ride, actor.UserID, b.PassengerID)
		rateDriver.BookingID = b.ID
		rateDriver.CounterpartID = ride.DriverID

		events = append(events, done, ratePassenger, rateDriver)
	}
	s.emit(ctx, events...)
	return ride, nil
}
