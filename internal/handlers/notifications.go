package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type fcmTokenInput struct {
	FCMToken string `json:"fcmToken" binding:"required,max=4096"`
}

// RegisterFCMToken registers or updates a user's FCM token
func RegisterFCMToken(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input fcmTokenInput
		if !bindJSON(c, &input) {
			return
		}
		token := strings.TrimSpace(input.FCMToken)
		err := db.WithContext(c.Request.Context()).Model(&models.User{}).
			Where("id = ?", c.GetUint("userId")).
			Update("fcm_token", token).Error
		if err != nil {
			respondInternal(c, "Failed to register FCM token", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "FCM token registered"})
	}
}

// RemoveFCMToken removes a user's FCM token
func RemoveFCMToken(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := db.WithContext(c.Request.Context()).Model(&models.User{}).
			Where("id = ?", c.GetUint("userId")).
			Update("fcm_token", "").Error
		if err != nil {
			respondInternal(c, "Failed to remove FCM token", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "FCM token removed"})
	}
}

// TestNotification sends a test push to the current user's device.
func TestNotification(db *gorm.DB, push services.Pusher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		ctx := c.Request.Context()

		var user models.User
		if err := db.WithContext(ctx).Select("id", "fcm_token").First(&user, userID).Error; err != nil {
			respondError(c, err)
			return
		}
		if user.FCMToken == "" {
			respondValidation(c, "fcmToken", "No FCM token registered for this user")
			return
		}
		if push == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
			return
		}

		err := push.SendToToken(ctx, user.FCMToken, services.NotificationPayload{
			Title: "Test Notification",
			Body:  "This is a test notification from CampusRide",
			Data:  map[string]interface{}{"type": "test", "userId": userID},
		})
		if errors.Is(err, services.ErrPushDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
			return
		}
		if err != nil {
			respondInternal(c, "Failed to send test notification", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
	}
}
