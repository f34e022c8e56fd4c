package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/middleware"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPerPage = 50
	maxPerPage     = 100
)

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (services.LatLng, error)
}

// rideView adds the derived fields clients display.
type rideView struct {
	models.Ride
	AvailableSeats int    `json:"availableSeats"`
	DriverName     string `json:"driverName,omitempty"`
}

func newRideView(r models.Ride) *rideView {
	v := &rideView{Ride: r, AvailableSeats: r.AvailableSeats()}
	if r.Driver != nil {
		v.DriverName = r.Driver.FullName
	}
	v.Ride.Driver = nil
	return v
}

type searchQuery struct {
	Origin      string   `form:"origin"`
	Destination string   `form:"destination"`
	DateFrom    string   `form:"date_from" binding:"omitempty,ridedate"`
	DateTo      string   `form:"date_to" binding:"omitempty,ridedate"`
	MaxPrice    *float64 `form:"max_price" binding:"omitempty,min=0"`
	MinSeats    int      `form:"min_seats" binding:"omitempty,min=1,max=7"`
	Sort        string   `form:"sort" binding:"omitempty,oneof=departure price_low price_high seats"`
	Page        int      `form:"page" binding:"omitempty,min=1"`
	PerPage     int      `form:"per_page" binding:"omitempty,min=1"`
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// openRides selects rides that can still be booked at the clock's current time.
func openRides(db *gorm.DB, clock ledger.Clock) *gorm.DB {
	return db.Model(&models.Ride{}).
		Where("rides.status = ? AND rides.seats_taken < rides.total_seats AND rides.departure_at > ?",
			models.RideStatusActive, clock.Now())
}

// SearchRides lists bookable rides with filters, sorting and pagination.
func SearchRides(db *gorm.DB, clock ledger.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q searchQuery
		if !bindQuery(c, &q) {
			return
		}
		if q.Page == 0 {
			q.Page = 1
		}
		if q.PerPage == 0 {
			q.PerPage = defaultPerPage
		}
		if q.PerPage > maxPerPage {
			q.PerPage = maxPerPage
		}

		query := openRides(db.WithContext(c.Request.Context()), clock)
		if q.Origin != "" {
			query = query.Where("rides.origin ILIKE ?", "%"+escapeLike(q.Origin)+"%")
		}
		if q.Destination != "" {
			query = query.Where("rides.destination ILIKE ?", "%"+escapeLike(q.Destination)+"%")
		}
		if q.DateFrom != "" {
			query = query.Where("rides.departure_date >= ?", q.DateFrom)
		}
		if q.DateTo != "" {
			query = query.Where("rides.departure_date <= ?", q.DateTo)
		}
		if q.MaxPrice != nil {
			query = query.Where("rides.price_per_seat <= ?", *q.MaxPrice)
		}
		if q.MinSeats > 0 {
			query = query.Where("rides.total_seats - rides.seats_taken >= ?", q.MinSeats)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondInternal(c, "Failed to search rides", err)
			return
		}

		switch q.Sort {
		case "price_low":
			query = query.Order("rides.price_per_seat ASC")
		case "price_high":
			query = query.Order("rides.price_per_seat DESC")
		case "seats":
			query = query.Order("rides.total_seats - rides.seats_taken DESC")
		}
		query = query.Order("rides.departure_at ASC").Order("rides.id ASC")

		var rides []models.Ride
		err := query.Preload("Driver").
			Offset((q.Page - 1) * q.PerPage).
			Limit(q.PerPage).
			Find(&rides).Error
		if err != nil {
			respondInternal(c, "Failed to search rides", err)
			return
		}

		out := make([]*rideView, 0, len(rides))
		for _, r := range rides {
			out = append(out, newRideView(r))
		}
		c.JSON(http.StatusOK, gin.H{
			"rides":   out,
			"total":   total,
			"page":    q.Page,
			"perPage": q.PerPage,
		})
	}
}

// GetRide returns a ride with its driver's public profile. The driver and admins also
// see every booking; a passenger sees their own.
func GetRide(db *gorm.DB, svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		actor := middleware.Actor(c)

		ride, err := svc.GetRide(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := gin.H{"ride": newRideView(*ride)}

		var driver models.User
		if err := db.WithContext(ctx).First(&driver, ride.DriverID).Error; err == nil {
			profile := driver.Public()
			if err := fillRating(ctx, db, &profile); err != nil {
				respondInternal(c, "Failed to load driver", err)
				return
			}
			resp["driver"] = profile
		}

		if actor.IsAdmin || actor.UserID == ride.DriverID {
			bookings, err := rideBookings(ctx, db, ride.ID)
			if err != nil {
				respondInternal(c, "Failed to load bookings", err)
				return
			}
			resp["bookings"] = bookings
		} else if actor.UserID != 0 {
			var mine models.Booking
			err := db.WithContext(ctx).
				Where("ride_id = ? AND passenger_id = ?", ride.ID, actor.UserID).
				Order("created_at DESC").
				First(&mine).Error
			if err == nil {
				resp["myBooking"] = mine
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

type myRideView struct {
	*rideView
	PendingRequests int64 `json:"pendingRequests"`
}

// MyRides lists the driver's rides, newest departure first, with pending request counts.
func MyRides(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		ctx := c.Request.Context()

		query := db.WithContext(ctx).Where("driver_id = ?", userID)
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}
		var rides []models.Ride
		if err := query.Order("departure_at DESC").Find(&rides).Error; err != nil {
			respondInternal(c, "Failed to fetch rides", err)
			return
		}

		type pendingRow struct {
			RideID uint
			N      int64
		}
		var rows []pendingRow
		err := db.WithContext(ctx).Model(&models.Booking{}).
			Select("bookings.ride_id, COUNT(*) AS n").
			Joins("JOIN rides ON rides.id = bookings.ride_id").
			Where("rides.driver_id = ? AND bookings.status = ?", userID, models.BookingStatusPending).
			Group("bookings.ride_id").
			Scan(&rows).Error
		if err != nil {
			respondInternal(c, "Failed to fetch rides", err)
			return
		}
		pending := make(map[uint]int64, len(rows))
		for _, r := range rows {
			pending[r.RideID] = r.N
		}

		out := make([]myRideView, 0, len(rides))
		for _, r := range rides {
			out = append(out, myRideView{rideView: newRideView(r), PendingRequests: pending[r.ID]})
		}
		c.JSON(http.StatusOK, gin.H{"rides": out})
	}
}

// PendingRequestCount is the badge count of requests awaiting the driver.
func PendingRequestCount(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n int64
		err := db.WithContext(c.Request.Context()).Model(&models.Booking{}).
			Joins("JOIN rides ON rides.id = bookings.ride_id").
			Where("rides.driver_id = ? AND bookings.status = ? AND rides.status IN ?",
				c.GetUint("userId"), models.BookingStatusPending, ledger.OpenRideStatuses()).
			Count(&n).Error
		if err != nil {
			respondInternal(c, "Failed to count requests", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// CreateRide posts a ride for the acting driver. Missing coordinates are geocoded when
// a geocoder is configured; geocoding failures do not block the ride.
func CreateRide(svc *ledger.Service, geo Geocoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ledger.RideInput
		if !bindJSON(c, &input) {
			return
		}

		if geo != nil {
			ctx := c.Request.Context()
			if input.OriginLat == nil || input.OriginLng == nil {
				if p, err := geo.Geocode(ctx, input.Origin); err == nil {
					input.OriginLat, input.OriginLng = &p.Lat, &p.Lng
				} else {
					_ = c.Error(fmt.Errorf("geocode origin: %w", err)).SetType(gin.ErrorTypePrivate)
				}
			}
			if input.DestinationLat == nil || input.DestinationLng == nil {
				if p, err := geo.Geocode(ctx, input.Destination); err == nil {
					input.DestinationLat, input.DestinationLng = &p.Lat, &p.Lng
				} else {
					_ = c.Error(fmt.Errorf("geocode destination: %w", err)).SetType(gin.ErrorTypePrivate)
				}
			}
		}

		ride, err := svc.CreateRide(c.Request.Context(), middleware.Actor(c), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Ride posted", "ride": newRideView(*ride)})
	}
}

func UpdateRide(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var upd ledger.RideUpdate
		if !bindJSON(c, &upd) {
			return
		}
		ride, err := svc.UpdateRide(c.Request.Context(), middleware.Actor(c), id, upd)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Ride updated", "ride": newRideView(*ride)})
	}
}

func CancelRide(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ride, err := svc.CancelRide(c.Request.Context(), middleware.Actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Ride cancelled", "ride": newRideView(*ride)})
	}
}

func CompleteRide(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ride, err := svc.CompleteRide(c.Request.Context(), middleware.Actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Ride completed", "ride": newRideView(*ride)})
	}
}

func DeleteRide(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		counts, err := svc.DeleteRide(c.Request.Context(), middleware.Actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Ride deleted", "deleted": counts})
	}
}
