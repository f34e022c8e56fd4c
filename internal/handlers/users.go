package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// fillRating adds the average rating and review count received by the profile's user.
func fillRating(ctx context.Context, db *gorm.DB, p *models.PublicProfile) error {
	var row struct {
		Avg   *float64
		Count int64
	}
	err := db.WithContext(ctx).Model(&models.Review{}).
		Select("AVG(rating) AS avg, COUNT(*) AS count").
		Where("reviewed_user_id = ?", p.ID).
		Scan(&row).Error
	if err != nil {
		return err
	}
	if row.Avg != nil {
		avg := math.Round(*row.Avg*10) / 10
		p.AvgRating = &avg
	}
	p.ReviewCount = row.Count
	return nil
}

// GetProfile returns the caller's own account.
func GetProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, c.GetUint("userId")).Error; err != nil {
			respondError(c, err)
			return
		}
		profile := user.Public()
		if err := fillRating(c.Request.Context(), db, &profile); err != nil {
			respondInternal(c, "Failed to load profile", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user, "avgRating": profile.AvgRating, "reviewCount": profile.ReviewCount})
	}
}

// GetPublicProfile is what other users see: no contact details.
func GetPublicProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var user models.User
		if err := db.WithContext(c.Request.Context()).Where("is_active = ?", true).First(&user, id).Error; err != nil {
			respondError(c, err)
			return
		}
		profile := user.Public()
		if err := fillRating(c.Request.Context(), db, &profile); err != nil {
			respondInternal(c, "Failed to load profile", err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

type profileUpdate struct {
	FullName              *string `json:"fullName" binding:"omitempty,min=2,max=100"`
	Phone                 *string `json:"phone" binding:"omitempty,max=20"`
	Bio                   *string `json:"bio" binding:"omitempty,max=500"`
	IsDriver              *bool   `json:"isDriver"`
	VehicleMake           *string `json:"vehicleMake" binding:"omitempty,max=50"`
	VehicleModel          *string `json:"vehicleModel" binding:"omitempty,max=50"`
	LicensePlate          *string `json:"licensePlate" binding:"omitempty,max=20"`
	DriversLicense        *string `json:"driversLicense" binding:"omitempty,max=50"`
	EmergencyContactName  *string `json:"emergencyContactName" binding:"omitempty,max=100"`
	EmergencyContactPhone *string `json:"emergencyContactPhone" binding:"omitempty,max=20"`
}

// UpdateProfile applies a partial update to the caller's account.
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		var input profileUpdate
		if !bindJSON(c, &input) {
			return
		}

		updates := map[string]interface{}{}
		setString := func(column string, v *string) {
			if v != nil {
				updates[column] = strings.TrimSpace(*v)
			}
		}
		setString("full_name", input.FullName)
		setString("phone", input.Phone)
		setString("bio", input.Bio)
		setString("vehicle_make", input.VehicleMake)
		setString("vehicle_model", input.VehicleModel)
		setString("license_plate", input.LicensePlate)
		setString("drivers_license", input.DriversLicense)
		setString("emergency_contact_name", input.EmergencyContactName)
		setString("emergency_contact_phone", input.EmergencyContactPhone)
		if input.IsDriver != nil {
			updates["is_driver"] = *input.IsDriver
		}

		ctx := c.Request.Context()
		var user models.User
		if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
			respondError(c, err)
			return
		}
		if len(updates) > 0 {
			if err := db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
				respondInternal(c, "Failed to update profile", err)
				return
			}
		}
		if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
			respondInternal(c, "Failed to reload user data", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "user": user})
	}
}

// UploadProfilePhoto replaces the caller's photo with the multipart `photo` file.
func UploadProfilePhoto(db *gorm.DB, storage *services.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		fh, err := c.FormFile("photo")
		if err != nil {
			respondValidation(c, "photo", "is required")
			return
		}
		if fh.Size > services.MaxImageSize {
			respondValidation(c, "photo", services.ErrImageTooLarge.Error())
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondInternal(c, "Failed to read upload", err)
			return
		}
		defer f.Close()

		url, err := storage.UploadImage(f, "profiles")
		if errors.Is(err, services.ErrImageTooLarge) || errors.Is(err, services.ErrUnsupportedType) {
			respondValidation(c, "photo", err.Error())
			return
		}
		if err != nil {
			respondInternal(c, "Failed to upload photo", err)
			return
		}

		ctx := c.Request.Context()
		var user models.User
		if err := db.WithContext(ctx).Select("id", "profile_photo").First(&user, userID).Error; err != nil {
			respondError(c, err)
			return
		}
		old := user.ProfilePhoto
		if err := db.WithContext(ctx).Model(&user).Update("profile_photo", url).Error; err != nil {
			respondInternal(c, "Failed to save photo", err)
			return
		}
		if old != "" {
			if err := storage.DeleteImage(old); err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "Photo updated", "profilePhoto": url})
	}
}
