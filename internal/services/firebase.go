package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/chachabrian/campusride-backend/pkg/logger"
	"google.golang.org/api/option"
)

// ErrPushDisabled is returned when no Firebase credentials were configured.
var ErrPushDisabled = errors.New("push notifications disabled")

// NotificationPayload represents the notification data
type NotificationPayload struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Priority string                 `json:"priority,omitempty"` // high, normal
	Tag      string                 `json:"tag,omitempty"`
}

// Push sends FCM notifications. The zero value is disabled.
type Push struct {
	client *messaging.Client
	log    *logger.Logger
}

// InitFirebase initializes the Firebase Admin SDK from a service account file. An empty
// path yields a disabled Push.
func InitFirebase(ctx context.Context, serviceAccountPath string, log *logger.Logger) (*Push, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithField("component", "fcm")
	if serviceAccountPath == "" {
		log.Warn("FIREBASE_SERVICE_ACCOUNT_PATH not set, push notifications disabled")
		return &Push{log: log}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	log.Info("Firebase Cloud Messaging initialized")
	return &Push{client: client, log: log}, nil
}

func (p *Push) Enabled() bool { return p != nil && p.client != nil }

// SendToToken delivers payload to a single device token.
func (p *Push) SendToToken(ctx context.Context, token string, payload NotificationPayload) error {
	if !p.Enabled() {
		return ErrPushDisabled
	}
	if token == "" {
		return errors.New("empty FCM token")
	}

	message := &messaging.Message{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    dataStrings(payload.Data),
		Token:   token,
		Android: androidConfig(payload),
		APNS:    apnsConfig(),
	}

	if _, err := p.client.Send(ctx, message); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}

// dataStrings converts the data map to the string map FCM requires.
func dataStrings(data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			out[key] = v
		case int, int64, uint, float64, bool:
			out[key] = fmt.Sprintf("%v", v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(b)
		}
	}
	return out
}

func androidConfig(payload NotificationPayload) *messaging.AndroidConfig {
	priority := messaging.PriorityHigh
	if payload.Priority == "normal" {
		priority = messaging.PriorityDefault
	}
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound:                 "default",
			ChannelID:             "campusride_default",
			Priority:              priority,
			DefaultSound:          true,
			Tag:                   payload.Tag,
			DefaultVibrateTimings: true,
		},
	}
}

func apnsConfig() *messaging.APNSConfig {
	badge := 1
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:            "default",
				Badge:            &badge,
				MutableContent:   true,
				ContentAvailable: true,
			},
		},
	}
}
