package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockUser is idempotent.
func BlockUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		targetID, ok := idParam(c, "id")
		if !ok {
			return
		}
		if targetID == userID {
			respondValidation(c, "id", "You cannot block yourself")
			return
		}
		ctx := c.Request.Context()

		var target models.User
		if err := db.WithContext(ctx).Select("id").First(&target, targetID).Error; err != nil {
			respondError(c, err)
			return
		}
		block := models.UserBlock{BlockerID: userID, BlockedID: targetID}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&block).Error
		if err != nil {
			respondInternal(c, "Failed to block user", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User blocked"})
	}
}

func UnblockUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID, ok := idParam(c, "id")
		if !ok {
			return
		}
		err := db.WithContext(c.Request.Context()).
			Where("blocker_id = ? AND blocked_id = ?", c.GetUint("userId"), targetID).
			Delete(&models.UserBlock{}).Error
		if err != nil {
			respondInternal(c, "Failed to unblock user", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User unblocked"})
	}
}

func ListBlocked(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var blocks []models.UserBlock
		err := db.WithContext(c.Request.Context()).
			Preload("Blocked").
			Where("blocker_id = ?", c.GetUint("userId")).
			Order("created_at DESC").
			Find(&blocks).Error
		if err != nil {
			respondInternal(c, "Failed to fetch blocked users", err)
			return
		}
		out := make([]models.PublicProfile, 0, len(blocks))
		for _, b := range blocks {
			if b.Blocked != nil {
				out = append(out, b.Blocked.Public())
			}
		}
		c.JSON(http.StatusOK, gin.H{"blocked": out})
	}
}

type ReportInput struct {
	Reason string `json:"reason" binding:"required,max=1000"`
	RideID *uint  `json:"rideId"`
}

// ReportUser files a report for admins to review.
func ReportUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		targetID, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input ReportInput
		if !bindJSON(c, &input) {
			return
		}
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			respondValidation(c, "reason", "is required")
			return
		}
		if targetID == userID {
			respondValidation(c, "id", "You cannot report yourself")
			return
		}
		ctx := c.Request.Context()

		var target models.User
		if err := db.WithContext(ctx).Select("id").First(&target, targetID).Error; err != nil {
			respondError(c, err)
			return
		}
		if input.RideID != nil {
			var ride models.Ride
			err := db.WithContext(ctx).Select("id").First(&ride, *input.RideID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondValidation(c, "rideId", "ride does not exist")
				return
			}
			if err != nil {
				respondInternal(c, "Failed to file report", err)
				return
			}
		}

		report := models.UserReport{
			ReporterID:     userID,
			ReportedUserID: targetID,
			RideID:         input.RideID,
			Reason:         reason,
			Status:         models.ReportStatusPending,
		}
		if err := db.WithContext(ctx).Create(&report).Error; err != nil {
			respondInternal(c, "Failed to file report", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Report submitted. Our team will review it.", "report": report})
	}
}
