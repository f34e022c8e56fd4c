package ledger

import (
	"context"
	"time"
)

type EventKind string

const (
	EventBookingRequested EventKind = "booking_requested"
	EventBookingConfirmed EventKind = "booking_confirmed"
	EventBookingRejected  EventKind = "booking_rejected"
	EventBookingCancelled EventKind = "booking_cancelled"
	EventRideCancelled    EventKind = "ride_cancelled"
	EventRideCompleted    EventKind = "ride_completed"
	EventRatingRequested  EventKind = "rating_requested"
)

// Event is addressed to a single recipient.
type Event struct {
	Kind        EventKind `json:"kind"`
	RecipientID uint      `json:"recipientId"`
	ActorID     uint      `json:"actorId"`
	RideID      uint      `json:"rideId"`
	BookingID   uint      `json:"bookingId,omitempty"`
	// CounterpartID is the other party of the booking, e.g. the user to rate.
	CounterpartID uint      `json:"counterpartId,omitempty"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureDate string    `json:"departureDate"`
	DepartureTime string    `json:"departureTime"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Notifier delivers events fire-and-forget. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

var nopNotifier = NotifierFunc(func(context.Context, Event) {})
