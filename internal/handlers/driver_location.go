package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type locationInput struct {
	Lat     *float64 `json:"lat" binding:"required,latitude"`
	Lng     *float64 `json:"lng" binding:"required,longitude"`
	Heading float64  `json:"heading" binding:"min=0,max=360"`
}

func confirmedPassengers(tx *gorm.DB, rideID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.Booking{}).
		Where("ride_id = ? AND status = ?", rideID, models.BookingStatusConfirmed).
		Pluck("passenger_id", &ids).Error
	return ids, err
}

// UpdateDriverLocation stores the driver's position for an open ride and pushes it to
// every confirmed passenger.
func UpdateDriverLocation(db *gorm.DB, rt services.Realtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input locationInput
		if !bindJSON(c, &input) {
			return
		}
		driverID := c.GetUint("userId")
		ctx := c.Request.Context()
		tx := db.WithContext(ctx)

		var ride models.Ride
		if err := tx.Select("id", "driver_id", "status").First(&ride, rideID).Error; err != nil {
			respondError(c, err)
			return
		}
		if ride.DriverID != driverID {
			respondError(c, fmt.Errorf("%w: only the driver can share the ride location", ledger.ErrForbidden))
			return
		}
		if !ride.IsOpen() {
			respondError(c, fmt.Errorf("%w: ride %d is %s", ledger.ErrInvalidState, ride.ID, ride.Status))
			return
		}

		location := models.DriverLocation{
			RideID:    rideID,
			DriverID:  driverID,
			Latitude:  *input.Lat,
			Longitude: *input.Lng,
			Heading:   input.Heading,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ride_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "heading", "updated_at"}),
		}).Create(&location).Error
		if err != nil {
			respondInternal(c, "Failed to update location", err)
			return
		}

		passengers, err := confirmedPassengers(tx, rideID)
		if err != nil {
			respondInternal(c, "Failed to update location", err)
			return
		}
		if rt != nil {
			for _, id := range passengers {
				if err := rt.Deliver(ctx, id, "driver_location", location); err != nil {
					_ = c.Error(err).SetType(gin.ErrorTypePrivate)
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "Location updated successfully",
			"location": location,
			"notified": len(passengers),
		})
	}
}

// GetDriverLocation returns the last shared position to the driver and confirmed
// passengers of the ride.
func GetDriverLocation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}
		userID := c.GetUint("userId")
		tx := db.WithContext(c.Request.Context())

		var ride models.Ride
		if err := tx.Select("id", "driver_id").First(&ride, rideID).Error; err != nil {
			respondError(c, err)
			return
		}
		if ride.DriverID != userID {
			var n int64
			err := tx.Model(&models.Booking{}).
				Where("ride_id = ? AND passenger_id = ? AND status = ?", rideID, userID, models.BookingStatusConfirmed).
				Count(&n).Error
			if err != nil {
				respondInternal(c, "Failed to fetch location", err)
				return
			}
			if n == 0 {
				respondError(c, fmt.Errorf("%w: not a confirmed passenger of ride %d", ledger.ErrForbidden, rideID))
				return
			}
		}

		var location models.DriverLocation
		err := tx.Where("ride_id = ?", rideID).First(&location).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"location": nil})
			return
		}
		if err != nil {
			respondInternal(c, "Failed to fetch location", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"location": location})
	}
}
