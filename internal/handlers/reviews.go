package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ReviewInput struct {
	RideID         uint   `json:"rideId" binding:"required"`
	ReviewedUserID uint   `json:"reviewedUserId" binding:"required"`
	Rating         int    `json:"rating" binding:"required,min=1,max=5"`
	Comment        string `json:"comment" binding:"max=1000"`
}

// completedPassenger reports whether userID rode on rideID to completion.
func completedPassenger(ctx context.Context, db *gorm.DB, rideID, userID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.Booking{}).
		Where("ride_id = ? AND passenger_id = ? AND status = ?", rideID, userID, models.BookingStatusCompleted).
		Count(&n).Error
	return n > 0, err
}

// CreateReview lets the driver and a completed passenger of a finished ride rate each
// other once.
func CreateReview(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewerID := c.GetUint("userId")
		var input ReviewInput
		if !bindJSON(c, &input) {
			return
		}
		if input.ReviewedUserID == reviewerID {
			respondValidation(c, "reviewedUserId", "You cannot review yourself")
			return
		}
		ctx := c.Request.Context()

		var ride models.Ride
		if err := db.WithContext(ctx).First(&ride, input.RideID).Error; err != nil {
			respondError(c, err)
			return
		}
		if ride.Status != models.RideStatusCompleted {
			c.JSON(http.StatusConflict, gin.H{"error": "Reviews open once the ride is completed", "kind": "invalid_state"})
			return
		}

		var passengerID uint
		switch ride.DriverID {
		case reviewerID:
			passengerID = input.ReviewedUserID
		case input.ReviewedUserID:
			passengerID = reviewerID
		default:
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the driver and passengers can review each other", "kind": "forbidden"})
			return
		}
		ok, err := completedPassenger(ctx, db, ride.ID, passengerID)
		if err != nil {
			respondInternal(c, "Failed to check booking", err)
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the driver and passengers can review each other", "kind": "forbidden"})
			return
		}

		review := models.Review{
			ReviewerID:     reviewerID,
			ReviewedUserID: input.ReviewedUserID,
			RideID:         ride.ID,
			Rating:         input.Rating,
			Comment:        strings.TrimSpace(input.Comment),
		}
		err = db.WithContext(ctx).Create(&review).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "You have already reviewed this user for this ride", "kind": "duplicate_review"})
			return
		}
		if err != nil {
			respondInternal(c, "Failed to save review", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Review submitted", "review": review})
	}
}

type reviewView struct {
	ID           uint   `json:"id"`
	RideID       uint   `json:"rideId"`
	Rating       int    `json:"rating"`
	Comment      string `json:"comment"`
	ReviewerID   uint   `json:"reviewerId"`
	ReviewerName string `json:"reviewerName"`
	CreatedAt    string `json:"createdAt"`
}

// UserReviews lists the reviews a user has received with their average rating.
func UserReviews(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var reviews []models.Review
		err := db.WithContext(ctx).
			Preload("Reviewer").
			Where("reviewed_user_id = ?", id).
			Order("created_at DESC").
			Limit(100).
			Find(&reviews).Error
		if err != nil {
			respondInternal(c, "Failed to fetch reviews", err)
			return
		}

		out := make([]reviewView, 0, len(reviews))
		for _, r := range reviews {
			v := reviewView{
				ID:         r.ID,
				RideID:     r.RideID,
				Rating:     r.Rating,
				Comment:    r.Comment,
				ReviewerID: r.ReviewerID,
				CreatedAt:  r.CreatedAt.Format("2006-01-02"),
			}
			if r.Reviewer != nil {
				v.ReviewerName = r.Reviewer.FullName
			}
			out = append(out, v)
		}

		profile := models.PublicProfile{ID: id}
		if err := fillRating(ctx, db, &profile); err != nil {
			respondInternal(c, "Failed to fetch reviews", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reviews":     out,
			"avgRating":   profile.AvgRating,
			"reviewCount": profile.ReviewCount,
		})
	}
}
