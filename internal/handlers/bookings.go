package handlers

import (
	"context"
	"net/http"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/middleware"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type bookingTransition func(ctx context.Context, actor ledger.Actor, id uint) (*models.Booking, error)

// RequestBooking asks for one seat on the ride in the path.
func RequestBooking(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, err := svc.RequestBooking(c.Request.Context(), middleware.Actor(c), rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"message": "Booking request sent to the driver",
			"booking": booking,
		})
	}
}

func transitionHandler(do bookingTransition, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, err := do(c.Request.Context(), middleware.Actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": message, "booking": booking})
	}
}

// ApproveBooking confirms a pending request and takes a seat. Driver only.
func ApproveBooking(svc *ledger.Service) gin.HandlerFunc {
	return transitionHandler(svc.ApproveBooking, "Booking approved")
}

// RejectBooking declines a pending request. Driver only.
func RejectBooking(svc *ledger.Service) gin.HandlerFunc {
	return transitionHandler(svc.RejectBooking, "Booking rejected")
}

// CancelBooking is available to the passenger and the driver.
func CancelBooking(svc *ledger.Service) gin.HandlerFunc {
	return transitionHandler(svc.CancelBooking, "Booking cancelled")
}

func GetBooking(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, err := svc.GetBooking(c.Request.Context(), middleware.Actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, booking)
	}
}

type bookingView struct {
	models.Booking
	Ride       *rideView `json:"ride,omitempty"`
	DriverName string    `json:"driverName,omitempty"`
}

// MyBookings lists the passenger's bookings, newest first, optionally by status.
func MyBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		query := db.WithContext(c.Request.Context()).
			Preload("Ride").
			Preload("Ride.Driver").
			Where("passenger_id = ?", userID)
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}

		var bookings []models.Booking
		if err := query.Order("created_at DESC").Find(&bookings).Error; err != nil {
			respondInternal(c, "Failed to fetch bookings", err)
			return
		}

		out := make([]bookingView, 0, len(bookings))
		for _, b := range bookings {
			v := bookingView{Booking: b}
			if b.Ride != nil {
				v.Ride = newRideView(*b.Ride)
				if b.Ride.Driver != nil {
					v.DriverName = b.Ride.Driver.FullName
				}
			}
			v.Booking.Ride = nil
			out = append(out, v)
		}
		c.JSON(http.StatusOK, gin.H{"bookings": out})
	}
}

type rideBookingView struct {
	models.Booking
	PassengerName string `json:"passengerName"`
}

// rideBookings returns the bookings of a ride with passenger names for its driver.
func rideBookings(ctx context.Context, db *gorm.DB, rideID uint) ([]rideBookingView, error) {
	var bookings []models.Booking
	err := db.WithContext(ctx).
		Preload("Passenger").
		Where("ride_id = ?", rideID).
		Order("created_at").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	out := make([]rideBookingView, 0, len(bookings))
	for _, b := range bookings {
		v := rideBookingView{Booking: b}
		if b.Passenger != nil {
			v.PassengerName = b.Passenger.FullName
		}
		v.Booking.Passenger = nil
		out = append(out, v)
	}
	return out, nil
}
