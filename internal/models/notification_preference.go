package models

import (
	"time"
)

// NotificationPreference represents user notification preferences
type NotificationPreference struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Channels
	PushEnabled  bool `gorm:"column:push_enabled;default:true" json:"pushEnabled"`
	EmailEnabled bool `gorm:"column:email_enabled;default:true" json:"emailEnabled"`

	// Topics
	BookingAlerts    bool `gorm:"column:booking_alerts;default:true" json:"bookingAlerts"`
	RideStatusAlerts bool `gorm:"column:ride_status_alerts;default:true" json:"rideStatusAlerts"`
	RatingReminders  bool `gorm:"column:rating_reminders;default:true" json:"ratingReminders"`
	MessageAlerts    bool `gorm:"column:message_alerts;default:true" json:"messageAlerts"`
}

// TableName specifies the table name for NotificationPreference
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// DefaultPreferences returns default notification preferences for a new user
func DefaultPreferences(userID uint) *NotificationPreference {
	return &NotificationPreference{
		UserID:           userID,
		PushEnabled:      true,
		EmailEnabled:     true,
		BookingAlerts:    true,
		RideStatusAlerts: true,
		RatingReminders:  true,
		MessageAlerts:    true,
	}
}
