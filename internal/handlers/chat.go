package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	chatRideContext = 20
	chatHistorySize = 20
)

type ChatDeps struct {
	DB        *gorm.DB
	Assistant *services.Assistant
	// Limiter is optional. Without redis the limit is enforced from chat_logs.
	Limiter *services.RateLimiter
	Limit   int
	Clock   ledger.Clock
}

type ChatInput struct {
	Message string              `json:"message"`
	History []services.ChatTurn `json:"history"`
}

// allow reports whether userID may send another chat message this minute.
func (d ChatDeps) allow(ctx context.Context, userID uint) (bool, error) {
	if d.Limit <= 0 {
		return true, nil
	}
	if d.Limiter != nil {
		ok, _, err := d.Limiter.Allow(ctx, strconv.FormatUint(uint64(userID), 10))
		if err == nil {
			return ok, nil
		}
	}
	var n int64
	err := d.DB.WithContext(ctx).Model(&models.ChatLog{}).
		Where("user_id = ? AND created_at > ?", userID, d.Clock.Now().Add(-time.Minute)).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n < int64(d.Limit), nil
}

func (d ChatDeps) rideContext(ctx context.Context) ([]models.Ride, services.PlatformStats, error) {
	var rides []models.Ride
	err := openRides(d.DB.WithContext(ctx), d.Clock).
		Order("rides.departure_at ASC").
		Limit(chatRideContext).
		Find(&rides).Error
	if err != nil {
		return nil, services.PlatformStats{}, err
	}

	var stats services.PlatformStats
	if err := d.DB.WithContext(ctx).Model(&models.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, stats, err
	}
	var row struct{ Avg *float64 }
	err = openRides(d.DB.WithContext(ctx), d.Clock).Select("AVG(rides.price_per_seat) AS avg").Scan(&row).Error
	if err != nil {
		return nil, stats, err
	}
	if row.Avg != nil {
		stats.AveragePrice = *row.Avg
	}
	return rides, stats, nil
}

// Chat answers a question about available rides.
func Chat(d ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		ctx := c.Request.Context()

		var input ChatInput
		if !bindJSON(c, &input) {
			return
		}
		msg, err := services.ValidateMessage(input.Message)
		if err != nil {
			respondValidation(c, "message", err.Error())
			return
		}

		ok, err := d.allow(ctx, userID)
		if err != nil {
			respondInternal(c, "Failed to process message", err)
			return
		}
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many messages, please wait a minute",
				"kind":  "rate_limited",
			})
			return
		}

		rides, stats, err := d.rideContext(ctx)
		if err != nil {
			respondInternal(c, "Failed to process message", err)
			return
		}
		reply, err := d.Assistant.Reply(ctx, rides, stats, input.History, msg)
		if err != nil && !errors.Is(err, services.ErrAssistantDisabled) {
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
		}

		entry := models.ChatLog{
			UserID:     userID,
			Message:    msg,
			Response:   reply.Response,
			TokensUsed: reply.TokensUsed,
			CreatedAt:  d.Clock.Now(),
		}
		if err := d.DB.WithContext(ctx).Create(&entry).Error; err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
		}
		c.JSON(http.StatusOK, reply)
	}
}

func ChatSuggestions(d ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rides []models.Ride
		err := openRides(d.DB.WithContext(c.Request.Context()), d.Clock).
			Limit(chatRideContext).
			Find(&rides).Error
		if err != nil {
			respondInternal(c, "Failed to load suggestions", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"suggestions": services.Suggestions(rides)})
	}
}

// ChatHistory returns the caller's most recent exchanges, oldest first.
func ChatHistory(d ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var logs []models.ChatLog
		err := d.DB.WithContext(c.Request.Context()).
			Where("user_id = ?", c.GetUint("userId")).
			Order("created_at DESC").
			Limit(chatHistorySize).
			Find(&logs).Error
		if err != nil {
			respondInternal(c, "Failed to load chat history", err)
			return
		}
		for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
			logs[i], logs[j] = logs[j], logs[i]
		}
		c.JSON(http.StatusOK, gin.H{"history": logs})
	}
}

func ChatGreeting(d ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rides []models.Ride
		err := openRides(d.DB.WithContext(c.Request.Context()), d.Clock).
			Limit(chatRideContext).
			Find(&rides).Error
		if err != nil {
			respondInternal(c, "Failed to load greeting", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"greeting":    services.Greeting(rides),
			"suggestions": services.Suggestions(rides),
			"enabled":     d.Assistant.Enabled(),
		})
	}
}
