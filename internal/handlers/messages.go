package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// participantStatuses are the booking statuses that make a passenger part of a ride.
var participantStatuses = []models.BookingStatus{
	models.BookingStatusPending,
	models.BookingStatusConfirmed,
	models.BookingStatusCompleted,
}

func isBlocked(ctx context.Context, db *gorm.DB, a, b uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.UserBlock{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&n).Error
	return n > 0, err
}

const participantSQL = `(r.driver_id = ? OR EXISTS (
	SELECT 1 FROM bookings b
	WHERE b.ride_id = r.id AND b.passenger_id = ? AND b.status IN ? AND b.deleted_at IS NULL))`

// canMessage reports whether a may write to b. On a ride both must take part in it;
// without one they must share at least one ride. Blocks in either direction forbid it.
func canMessage(ctx context.Context, db *gorm.DB, a, b uint, rideID *uint) (bool, error) {
	if a == b {
		return false, nil
	}
	blocked, err := isBlocked(ctx, db, a, b)
	if err != nil || blocked {
		return false, err
	}

	query := db.WithContext(ctx).Table("rides AS r").
		Where("r.deleted_at IS NULL").
		Where(participantSQL, a, a, participantStatuses).
		Where(participantSQL, b, b, participantStatuses)
	if rideID != nil {
		query = query.Where("r.id = ?", *rideID)
	}
	var n int64
	err = query.Count(&n).Error
	return n > 0, err
}

type MessageInput struct {
	ReceiverID uint   `json:"receiverId" binding:"required"`
	RideID     *uint  `json:"rideId"`
	Content    string `json:"content" binding:"required,max=2000"`
}

// SendMessage stores a message and pushes it to the receiver when rt is set.
func SendMessage(db *gorm.DB, rt services.Realtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := c.GetUint("userId")
		var input MessageInput
		if !bindJSON(c, &input) {
			return
		}
		content := strings.TrimSpace(input.Content)
		if content == "" {
			respondValidation(c, "content", "is required")
			return
		}
		ctx := c.Request.Context()

		ok, err := canMessage(ctx, db, senderID, input.ReceiverID, input.RideID)
		if err != nil {
			respondInternal(c, "Failed to check messaging permission", err)
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "You can only message users you share a ride with", "kind": ledger.KindForbidden})
			return
		}

		msg := models.Message{
			SenderID:   senderID,
			ReceiverID: input.ReceiverID,
			RideID:     input.RideID,
			Content:    content,
		}
		if err := db.WithContext(ctx).Create(&msg).Error; err != nil {
			respondInternal(c, "Failed to send message", err)
			return
		}
		if rt != nil {
			if err := rt.Deliver(ctx, input.ReceiverID, "new_message", msg); err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			}
		}
		c.JSON(http.StatusCreated, msg)
	}
}

// Conversation returns the thread with another user and marks received messages read.
func Conversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		otherID, ok := idParam(c, "userId")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var messages []models.Message
		err := db.WithContext(ctx).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, otherID, otherID, userID).
			Order("created_at ASC").
			Limit(500).
			Find(&messages).Error
		if err != nil {
			respondInternal(c, "Failed to fetch messages", err)
			return
		}

		err = db.WithContext(ctx).Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND is_read = ?", otherID, userID, false).
			Update("is_read", true).Error
		if err != nil {
			respondInternal(c, "Failed to mark messages read", err)
			return
		}

		var other models.User
		name := ""
		if err := db.WithContext(ctx).Select("id", "full_name").First(&other, otherID).Error; err == nil {
			name = other.FullName
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages, "otherUserId": otherID, "otherUserName": name})
	}
}

// Conversations lists one entry per counterpart, most recent first.
func Conversations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		ctx := c.Request.Context()

		var messages []models.Message
		err := db.WithContext(ctx).
			Where("sender_id = ? OR receiver_id = ?", userID, userID).
			Order("created_at DESC").
			Find(&messages).Error
		if err != nil {
			respondInternal(c, "Failed to fetch conversations", err)
			return
		}

		byUser := map[uint]*models.Conversation{}
		var ids []uint
		for _, m := range messages {
			other := m.SenderID
			if other == userID {
				other = m.ReceiverID
			}
			conv, ok := byUser[other]
			if !ok {
				conv = &models.Conversation{OtherUserID: other, LastMessage: m.Content, LastMessageAt: m.CreatedAt}
				byUser[other] = conv
				ids = append(ids, other)
			}
			if m.ReceiverID == userID && !m.IsRead {
				conv.UnreadCount++
			}
		}

		if len(ids) > 0 {
			var users []models.User
			if err := db.WithContext(ctx).Select("id", "full_name").Where("id IN ?", ids).Find(&users).Error; err != nil {
				respondInternal(c, "Failed to fetch conversations", err)
				return
			}
			for _, u := range users {
				byUser[u.ID].OtherUserName = u.FullName
			}
		}

		out := make([]models.Conversation, 0, len(ids))
		for _, id := range ids {
			out = append(out, *byUser[id])
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
		c.JSON(http.StatusOK, gin.H{"conversations": out})
	}
}

func UnreadCount(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n int64
		err := db.WithContext(c.Request.Context()).Model(&models.Message{}).
			Where("receiver_id = ? AND is_read = ?", c.GetUint("userId"), false).
			Count(&n).Error
		if err != nil {
			respondInternal(c, "Failed to count messages", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}
