package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/observability"
	"github.com/chachabrian/campusride-backend/pkg/logger"
	"github.com/chachabrian/campusride-backend/pkg/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const deliveryTimeout = 10 * time.Second

// Recipients resolves who an event is addressed to.
type Recipients interface {
	Recipient(ctx context.Context, userID uint) (*models.User, models.NotificationPreference, error)
	DisplayName(ctx context.Context, userID uint) string
}

// Realtime delivers in-app messages to connected clients.
type Realtime interface {
	Deliver(ctx context.Context, userID uint, msgType string, data interface{}) error
}

type Pusher interface {
	SendToToken(ctx context.Context, token string, payload NotificationPayload) error
}

type Mailer interface {
	Enabled() bool
	RenderRideEmail(e utils.RideEmail) (subject, body string, ok bool)
	Send(to, subject, body string) error
}

type EventSink interface {
	Publish(ctx context.Context, ev ledger.Event) error
}

type DispatcherConfig struct {
	Recipients Recipients
	Realtime   Realtime
	Push       Pusher
	Mail       Mailer
	Sink       EventSink
	Workers    int
	QueueSize  int
	Logger     *logger.Logger
}

// Dispatcher fans ledger events out to every configured channel on a pool of workers.
// Notify never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	cfg   DispatcherConfig
	log   *logger.Logger
	queue chan job

	wg sync.WaitGroup
	// mu guards closed and the close of queue against concurrent sends.
	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx context.Context
	ev  ledger.Event
}

var _ ledger.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     log.WithField("component", "notifier"),
		queue: make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They exit once Stop has drained the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(j.ctx, j.ev)
			}
		}()
	}
}

// Stop stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) Notify(ctx context.Context, ev ledger.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observability.NotificationsDispatched.WithLabelValues("queue", "dropped").Inc()
		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		observability.NotificationsDispatched.WithLabelValues("queue", "dropped").Inc()
		d.log.WithFields(map[string]interface{}{
			"kind":      ev.Kind,
			"recipient": ev.RecipientID,
		}).Warn("notification queue full, dropping event")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev ledger.Event) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	log := d.log.WithFields(map[string]interface{}{
		"kind":      ev.Kind,
		"recipient": ev.RecipientID,
		"rideId":    ev.RideID,
	})

	if d.cfg.Sink != nil {
		d.record("kafka", d.cfg.Sink.Publish(ctx, ev), log)
	}
	if d.cfg.Realtime != nil {
		d.record("websocket", d.cfg.Realtime.Deliver(ctx, ev.RecipientID, "notification", ev), log)
	}
	if d.cfg.Recipients == nil {
		return
	}

	user, prefs, err := d.cfg.Recipients.Recipient(ctx, ev.RecipientID)
	if err != nil {
		log.WithError(err).Warn("notification recipient lookup failed")
		return
	}
	if !wants(prefs, ev.Kind) {
		return
	}
	other := ""
	if ev.CounterpartID != 0 {
		other = d.cfg.Recipients.DisplayName(ctx, ev.CounterpartID)
	}

	if d.cfg.Push != nil && prefs.PushEnabled && user.FCMToken != "" {
		title, body := pushText(ev, other)
		err := d.cfg.Push.SendToToken(ctx, user.FCMToken, NotificationPayload{
			Title: title,
			Body:  body,
			Tag:   fmt.Sprintf("ride_%d", ev.RideID),
			Data: map[string]interface{}{
				"type":      string(ev.Kind),
				"rideId":    ev.RideID,
				"bookingId": ev.BookingID,
			},
		})
		d.record("push", err, log)
	}

	if d.cfg.Mail != nil && d.cfg.Mail.Enabled() && prefs.EmailEnabled {
		subject, body, ok := d.cfg.Mail.RenderRideEmail(utils.RideEmail{
			Kind:          string(ev.Kind),
			RecipientName: user.FirstName(),
			OtherName:     other,
			RideID:        ev.RideID,
			Origin:        ev.Origin,
			Destination:   ev.Destination,
			DepartureDate: ev.DepartureDate,
			DepartureTime: ev.DepartureTime,
		})
		if ok {
			d.record("email", d.cfg.Mail.Send(user.Email, subject, body), log)
		}
	}
}

func (d *Dispatcher) record(channel string, err error, log *logger.Logger) {
	switch {
	case err == nil:
		observability.NotificationsDispatched.WithLabelValues(channel, "ok").Inc()
	case errors.Is(err, ErrPushDisabled), errors.Is(err, utils.ErrEmailDisabled):
		observability.NotificationsDispatched.WithLabelValues(channel, "disabled").Inc()
	default:
		observability.NotificationsDispatched.WithLabelValues(channel, "error").Inc()
		log.WithError(err).WithField("channel", channel).Warn("notification delivery failed")
	}
}

// wants applies the per-category preference switches.
func wants(p models.NotificationPreference, kind ledger.EventKind) bool {
	switch kind {
	case ledger.EventBookingRequested, ledger.EventBookingConfirmed, ledger.EventBookingRejected, ledger.EventBookingCancelled:
		return p.BookingAlerts
	case ledger.EventRideCancelled, ledger.EventRideCompleted:
		return p.RideStatusAlerts
	case ledger.EventRatingRequested:
		return p.RatingReminders
	}
	return true
}

func pushText(ev ledger.Event, other string) (title, body string) {
	route := fmt.Sprintf("%s to %s", ev.Origin, ev.Destination)
	if other == "" {
		other = "Someone"
	}
	switch ev.Kind {
	case ledger.EventBookingRequested:
		return "New booking request", fmt.Sprintf("%s wants a seat on your ride %s", other, route)
	case ledger.EventBookingConfirmed:
		return "Booking confirmed", fmt.Sprintf("Your seat on %s is confirmed", route)
	case ledger.EventBookingRejected:
		return "Booking not accepted", fmt.Sprintf("Your request for %s was not accepted", route)
	case ledger.EventBookingCancelled:
		return "Booking cancelled", fmt.Sprintf("%s cancelled the booking on %s", other, route)
	case ledger.EventRideCancelled:
		return "Ride cancelled", fmt.Sprintf("The ride %s on %s has been cancelled", route, ev.DepartureDate)
	case ledger.EventRideCompleted:
		return "Ride completed", fmt.Sprintf("Thanks for riding %s", route)
	case ledger.EventRatingRequested:
		return "Rate your ride", fmt.Sprintf("How was your ride with %s?", other)
	}
	return "Campus Ride-Share", route
}

// HubRealtime delivers to connections on this instance only.
type HubRealtime struct{ Hub *Hub }

func (h HubRealtime) Deliver(_ context.Context, userID uint, msgType string, data interface{}) error {
	return h.Hub.SendToUser(userID, msgType, data)
}

// DBRecipients reads users and their notification preferences with gorm.
type DBRecipients struct{ DB *gorm.DB }

func (r DBRecipients) Recipient(ctx context.Context, userID uint) (*models.User, models.NotificationPreference, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, models.NotificationPreference{}, err
	}
	prefs := *models.DefaultPreferences(userID)
	var stored models.NotificationPreference
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&stored).Error
	switch {
	case err == nil:
		prefs = stored
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, prefs, err
	}
	return &user, prefs, nil
}

func (r DBRecipients) DisplayName(ctx context.Context, userID uint) string {
	var user models.User
	if err := r.DB.WithContext(ctx).Select("id", "full_name").First(&user, userID).Error; err != nil {
		return ""
	}
	return user.FirstName()
}

// RedisRealtime fans messages out through redis so every API instance reaches its own
// connections.
type RedisRealtime struct {
	Client  *redis.Client
	Channel string
}

func (r RedisRealtime) Deliver(ctx context.Context, userID uint, msgType string, data interface{}) error {
	return PublishToUser(ctx, r.Client, r.Channel, userID, msgType, data)
}
