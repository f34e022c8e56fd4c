package handlers

import (
	"context"
	"net/http"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// loadPreferences returns the user's stored preferences, creating the defaults first.
func loadPreferences(ctx context.Context, db *gorm.DB, userID uint) (*models.NotificationPreference, error) {
	prefs := models.DefaultPreferences(userID)
	err := db.WithContext(ctx).
		Where(models.NotificationPreference{UserID: userID}).
		Attrs(*prefs).
		FirstOrCreate(prefs).Error
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// GetNotificationPreferences retrieves user's notification preferences
func GetNotificationPreferences(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefs, err := loadPreferences(c.Request.Context(), db, c.GetUint("userId"))
		if err != nil {
			respondInternal(c, "Failed to fetch preferences", err)
			return
		}
		c.JSON(http.StatusOK, prefs)
	}
}

type preferencesUpdate struct {
	PushEnabled      *bool `json:"pushEnabled"`
	EmailEnabled     *bool `json:"emailEnabled"`
	BookingAlerts    *bool `json:"bookingAlerts"`
	RideStatusAlerts *bool `json:"rideStatusAlerts"`
	RatingReminders  *bool `json:"ratingReminders"`
	MessageAlerts    *bool `json:"messageAlerts"`
}

func (u preferencesUpdate) columns() map[string]interface{} {
	out := map[string]interface{}{}
	set := func(col string, v *bool) {
		if v != nil {
			out[col] = *v
		}
	}
	set("push_enabled", u.PushEnabled)
	set("email_enabled", u.EmailEnabled)
	set("booking_alerts", u.BookingAlerts)
	set("ride_status_alerts", u.RideStatusAlerts)
	set("rating_reminders", u.RatingReminders)
	set("message_alerts", u.MessageAlerts)
	return out
}

// UpdateNotificationPreferences updates only the fields present in the body.
func UpdateNotificationPreferences(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input preferencesUpdate
		if !bindJSON(c, &input) {
			return
		}
		ctx := c.Request.Context()
		prefs, err := loadPreferences(ctx, db, c.GetUint("userId"))
		if err != nil {
			respondInternal(c, "Failed to fetch preferences", err)
			return
		}
		// Updates with a map writes false values too.
		if cols := input.columns(); len(cols) > 0 {
			if err := db.WithContext(ctx).Model(prefs).Updates(cols).Error; err != nil {
				respondInternal(c, "Failed to update preferences", err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     "Preferences updated successfully",
			"preferences": prefs,
		})
	}
}
