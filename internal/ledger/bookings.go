package ledger

import (
	"context"
	"fmt"

	"github.com/chachabrian/campusride-backend/internal/models"
)

// RequestBooking creates a pending booking for one seat on rideID.
func (s *Service) RequestBooking(ctx context.Context, actor Actor, rideID uint) (_ *models.Booking, err error) {
	defer func() { s.observe("request_booking", err) }()

	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == actor.UserID {
		return nil, fmt.Errorf("%w: cannot book your own ride", ErrForbidden)
	}
	blocked, err := s.store.IsBlocked(ctx, actor.UserID, ride.DriverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, fmt.Errorf("%w: you cannot book rides with this driver", ErrForbidden)
	}

	now := s.clock.Now()
	var booking *models.Booking
	err = s.store.WithRide(ctx, rideID, now, func(tx Tx, locked *models.Ride) error {
		if locked.Status != models.RideStatusActive || locked.SeatsTaken >= locked.TotalSeats {
			return fmt.Errorf("%w: ride %d is %s", ErrRideUnavailable, locked.ID, locked.Status)
		}
		if !locked.DepartureAt.After(now) {
			return fmt.Errorf("%w: ride %d has already departed", ErrRideUnavailable, locked.ID)
		}
		existing, err := tx.ActiveBooking(actor.UserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: booking %d is already %s", ErrDuplicateBooking, existing.ID, existing.Status)
		}
		booking = &models.Booking{
			RideID:      locked.ID,
			PassengerID: actor.UserID,
			Status:      models.BookingStatusPending,
		}
		ride = locked
		return tx.InsertBooking(booking)
	})
	if err != nil {
		return nil, err
	}

	ev := s.event(EventBookingRequested, ride, actor.UserID, ride.DriverID)
	ev.BookingID = booking.ID
	ev.CounterpartID = actor.UserID
	s.emit(ctx, ev)
	return booking, nil
}

// ApproveBooking confirms a pending booking and consumes one seat in the same unit of work.
func (s *Service) ApproveBooking(ctx context.Context, actor Actor, bookingID uint) (_ *models.Booking, err error) {
	defer func() { s.observe("approve_booking", err) }()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var ride *models.Ride
	err = s.store.WithRide(ctx, booking.RideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		if locked.DriverID != actor.UserID {
			return fmt.Errorf("%w: only the driver can approve bookings", ErrForbidden)
		}
		current, err := tx.FindBooking(bookingID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusPending {
			return fmt.Errorf("%w: booking %d is %s", ErrInvalidState, current.ID, current.Status)
		}
		if !locked.IsOpen() {
			return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, locked.ID, locked.Status)
		}
		reserved, err := tx.ReserveSeat()
		if err != nil {
			return err
		}
		if !reserved {
			return fmt.Errorf("%w: ride %d has no seats left", ErrCapacityExceeded, locked.ID)
		}
		moved, err := tx.SetBookingStatus(current.ID, []models.BookingStatus{models.BookingStatusPending}, models.BookingStatusConfirmed)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidState, current.ID)
		}
		current.Status = models.BookingStatusConfirmed
		booking = current
		ride = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := s.event(EventBookingConfirmed, ride, actor.UserID, booking.PassengerID)
	ev.BookingID = booking.ID
	ev.CounterpartID = ride.DriverID
	s.emit(ctx, ev)
	return booking, nil
}

// RejectBooking declines a pending booking. Seats are unaffected.
func (s *Service) RejectBooking(ctx context.Context, actor Actor, bookingID uint) (_ *models.Booking, err error) {
	defer func() { s.observe("reject_booking", err) }()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var ride *models.Ride
	err = s.store.WithRide(ctx, booking.RideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		if locked.DriverID != actor.UserID {
			return fmt.Errorf("%w: only the driver can reject bookings", ErrForbidden)
		}
		current, err := tx.FindBooking(bookingID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusPending {
			return fmt.Errorf("%w: booking %d is %s", ErrInvalidState, current.ID, current.Status)
		}
		moved, err := tx.SetBookingStatus(current.ID, []models.BookingStatus{models.BookingStatusPending}, models.BookingStatusRejected)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidState, current.ID)
		}
		current.Status = models.BookingStatusRejected
		booking = current
		ride = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := s.event(EventBookingRejected, ride, actor.UserID, booking.PassengerID)
	ev.BookingID = booking.ID
	ev.CounterpartID = ride.DriverID
	s.emit(ctx, ev)
	return booking, nil
}

// CancelBooking cancels a pending or confirmed booking on behalf of the passenger or
// the driver. A confirmed booking gives its seat back and needs the ride to be open.
func (s *Service) CancelBooking(ctx context.Context, actor Actor, bookingID uint) (_ *models.Booking, err error) {
	defer func() { s.observe("cancel_booking", err) }()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var ride *models.Ride
	err = s.store.WithRide(ctx, booking.RideID, s.clock.Now(), func(tx Tx, locked *models.Ride) error {
		current, err := tx.FindBooking(bookingID)
		if err != nil {
			return err
		}
		if current.PassengerID != actor.UserID && locked.DriverID != actor.UserID {
			return fmt.Errorf("%w: not a party to booking %d", ErrForbidden, current.ID)
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: booking %d is %s", ErrInvalidState, current.ID, current.Status)
		}
		prior := current.Status
		// Seats on a closed ride are frozen. Pending requests can always be withdrawn.
		if prior == models.BookingStatusConfirmed && !locked.IsOpen() {
			return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, locked.ID, locked.Status)
		}
		moved, err := tx.SetBookingStatus(current.ID, []models.BookingStatus{prior}, models.BookingStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidState, current.ID)
		}
		if prior == models.BookingStatusConfirmed {
			if err := tx.ReleaseSeats(1); err != nil {
				return err
			}
		}
		current.Status = models.BookingStatusCancelled
		booking = current
		ride = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	recipient, counterpart := ride.DriverID, booking.PassengerID
	if actor.UserID == ride.DriverID {
		recipient, counterpart = booking.PassengerID, ride.DriverID
	}
	ev := s.event(EventBookingCancelled, ride, actor.UserID, recipient)
	ev.BookingID = booking.ID
	ev.CounterpartID = counterpart
	s.emit(ctx, ev)
	return booking, nil
}
