package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/observability"
	"github.com/chachabrian/campusride-backend/pkg/logger"
)

type Options struct {
	Notifier Notifier
	Clock    Clock
	Logger   *logger.Logger
	// Location is the timezone departure dates and times are written in.
	Location *time.Location
}

// Service owns ride seat capacity and booking status transitions.
type Service struct {
	store    Store
	notifier Notifier
	clock    Clock
	log      *logger.Logger
	loc      *time.Location
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		log:      opts.Logger,
		loc:      opts.Location,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	return s
}

// Location is the timezone used to interpret departure dates and times.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) observe(action string, err error) {
	kind := KindOf(err)
	observability.BookingTransitions.WithLabelValues(action, string(kind)).Inc()
	if kind == KindInternal {
		s.log.WithField("action", action).WithError(err).Error("ledger operation failed")
	}
}

func (s *Service) event(kind EventKind, ride *models.Ride, actorID, recipientID uint) Event {
	return Event{
		Kind:          kind,
		RecipientID:   recipientID,
		ActorID:       actorID,
		RideID:        ride.ID,
		Origin:        ride.Origin,
		Destination:   ride.Destination,
		DepartureDate: ride.DepartureDate,
		DepartureTime: ride.DepartureTime,
		OccurredAt:    s.clock.Now(),
	}
}

func (s *Service) emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}
}

func (s *Service) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	return s.store.GetRide(ctx, id)
}

// GetBooking returns a booking visible to its passenger, the ride's driver or an admin.
func (s *Service) GetBooking(ctx context.Context, actor Actor, id uint) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin || b.PassengerID == actor.UserID {
		return b, nil
	}
	ride, err := s.store.GetRide(ctx, b.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != actor.UserID {
		return nil, fmt.Errorf("%w: not a party to booking %d", ErrForbidden, id)
	}
	return b, nil
}
