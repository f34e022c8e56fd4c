package ledger

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chachabrian/campusride-backend/internal/models"
)

const maxPlaceLength = 200

// RideInput is what a driver submits when posting a ride.
type RideInput struct {
	Origin                   string   `json:"origin" binding:"required"`
	Destination              string   `json:"destination" binding:"required"`
	DepartureDate            string   `json:"departureDate" binding:"required,ridedate"`
	DepartureTime            string   `json:"departureTime" binding:"required,hhmm"`
	TotalSeats               int      `json:"totalSeats" binding:"required"`
	PricePerSeat             float64  `json:"pricePerSeat"`
	Notes                    string   `json:"notes"`
	OriginLat                *float64 `json:"originLat"`
	OriginLng                *float64 `json:"originLng"`
	DestinationLat           *float64 `json:"destinationLat"`
	DestinationLng           *float64 `json:"destinationLng"`
	DistanceKm               *float64 `json:"distanceKm"`
	EstimatedDurationMinutes *int     `json:"estimatedDurationMinutes"`
	VehicleType              string   `json:"vehicleType"`
	LuggageAllowed           bool     `json:"luggageAllowed"`
	PetsAllowed              bool     `json:"petsAllowed"`
	SmokingAllowed           bool     `json:"smokingAllowed"`
	MusicAllowed             bool     `json:"musicAllowed"`
	ACAvailable              bool     `json:"acAvailable"`
}

// Build validates the input and returns an unsaved active ride.
func (in RideInput) Build(driverID uint, now time.Time, loc *time.Location) (*models.Ride, error) {
	departure, err := ParseDeparture(in.DepartureDate, in.DepartureTime, loc)
	if err != nil {
		return nil, err
	}
	if departure.Before(now) {
		return nil, invalid("departureDate", "departure cannot be in the past")
	}

	ride := &models.Ride{
		DriverID:                 driverID,
		Origin:                   strings.TrimSpace(in.Origin),
		Destination:              strings.TrimSpace(in.Destination),
		OriginLat:                in.OriginLat,
		OriginLng:                in.OriginLng,
		DestinationLat:           in.DestinationLat,
		DestinationLng:           in.DestinationLng,
		DepartureDate:            in.DepartureDate,
		DepartureTime:            in.DepartureTime,
		DepartureAt:              departure,
		TotalSeats:               in.TotalSeats,
		SeatsTaken:               0,
		PricePerSeat:             in.PricePerSeat,
		Status:                   models.RideStatusActive,
		DistanceKm:               in.DistanceKm,
		EstimatedDurationMinutes: in.EstimatedDurationMinutes,
		Notes:                    strings.TrimSpace(in.Notes),
		VehicleType:              strings.TrimSpace(in.VehicleType),
		LuggageAllowed:           in.LuggageAllowed,
		PetsAllowed:              in.PetsAllowed,
		SmokingAllowed:           in.SmokingAllowed,
		MusicAllowed:             in.MusicAllowed,
		ACAvailable:              in.ACAvailable,
	}
	if err := validateRide(ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// RideUpdate is a partial update; nil fields are left alone. Status and seats taken are
// owned by the state machine and cannot be set here.
type RideUpdate struct {
	Origin                   *string  `json:"origin"`
	Destination              *string  `json:"destination"`
	DepartureDate            *string  `json:"departureDate" binding:"omitempty,ridedate"`
	DepartureTime            *string  `json:"departureTime" binding:"omitempty,hhmm"`
	TotalSeats               *int     `json:"totalSeats"`
	PricePerSeat             *float64 `json:"pricePerSeat"`
	Notes                    *string  `json:"notes"`
	OriginLat                *float64 `json:"originLat"`
	OriginLng                *float64 `json:"originLng"`
	DestinationLat           *float64 `json:"destinationLat"`
	DestinationLng           *float64 `json:"destinationLng"`
	DistanceKm               *float64 `json:"distanceKm"`
	EstimatedDurationMinutes *int     `json:"estimatedDurationMinutes"`
	VehicleType              *string  `json:"vehicleType"`
	LuggageAllowed           *bool    `json:"luggageAllowed"`
	PetsAllowed              *bool    `json:"petsAllowed"`
	SmokingAllowed           *bool    `json:"smokingAllowed"`
	MusicAllowed             *bool    `json:"musicAllowed"`
	ACAvailable              *bool    `json:"acAvailable"`
}

// Apply merges the update into ride, validates the result and recomputes the
// active/full status from the seat count.
func (u RideUpdate) Apply(ride *models.Ride, now time.Time, loc *time.Location) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&ride.Origin, u.Origin)
	setString(&ride.Destination, u.Destination)
	setString(&ride.Notes, u.Notes)
	setString(&ride.VehicleType, u.VehicleType)

	if u.DepartureDate != nil || u.DepartureTime != nil {
		date, clock := ride.DepartureDate, ride.DepartureTime
		if u.DepartureDate != nil {
			date = *u.DepartureDate
		}
		if u.DepartureTime != nil {
			clock = *u.DepartureTime
		}
		departure, err := ParseDeparture(date, clock, loc)
		if err != nil {
			return err
		}
		if departure.Before(now) {
			return invalid("departureDate", "departure cannot be in the past")
		}
		ride.DepartureDate, ride.DepartureTime, ride.DepartureAt = date, clock, departure
	}

	if u.TotalSeats != nil {
		if *u.TotalSeats < ride.SeatsTaken {
			return invalid("totalSeats", "cannot be below the %d seats already taken", ride.SeatsTaken)
		}
		ride.TotalSeats = *u.TotalSeats
	}
	if u.PricePerSeat != nil {
		ride.PricePerSeat = *u.PricePerSeat
	}
	if u.OriginLat != nil {
		ride.OriginLat = u.OriginLat
	}
	if u.OriginLng != nil {
		ride.OriginLng = u.OriginLng
	}
	if u.DestinationLat != nil {
		ride.DestinationLat = u.DestinationLat
	}
	if u.DestinationLng != nil {
		ride.DestinationLng = u.DestinationLng
	}
	if u.DistanceKm != nil {
		ride.DistanceKm = u.DistanceKm
	}
	if u.EstimatedDurationMinutes != nil {
		ride.EstimatedDurationMinutes = u.EstimatedDurationMinutes
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&ride.LuggageAllowed, u.LuggageAllowed)
	setBool(&ride.PetsAllowed, u.PetsAllowed)
	setBool(&ride.SmokingAllowed, u.SmokingAllowed)
	setBool(&ride.MusicAllowed, u.MusicAllowed)
	setBool(&ride.ACAvailable, u.ACAvailable)

	if err := validateRide(ride); err != nil {
		return err
	}

	if ride.SeatsTaken >= ride.TotalSeats {
		ride.Status = models.RideStatusFull
	} else {
		ride.Status = models.RideStatusActive
	}
	return nil
}

// ParseDeparture combines a YYYY-MM-DD date and an HH:MM time in loc.
func ParseDeparture(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return time.Time{}, invalid("departureDate", "must be a date in YYYY-MM-DD format")
	}
	if _, err := time.Parse(models.TimeLayout, clock); err != nil {
		return time.Time{}, invalid("departureTime", "must be a time in HH:MM format")
	}
	return time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+clock, loc)
}

func validateRide(r *models.Ride) error {
	switch {
	case r.Origin == "":
		return invalid("origin", "is required")
	case utf8.RuneCountInString(r.Origin) > maxPlaceLength:
		return invalid("origin", "must be at most %d characters", maxPlaceLength)
	case r.Destination == "":
		return invalid("destination", "is required")
	case utf8.RuneCountInString(r.Destination) > maxPlaceLength:
		return invalid("destination", "must be at most %d characters", maxPlaceLength)
	case r.TotalSeats < models.MinSeats || r.TotalSeats > models.MaxSeats:
		return invalid("totalSeats", "must be between %d and %d", models.MinSeats, models.MaxSeats)
	case math.IsNaN(r.PricePerSeat) || r.PricePerSeat < 0 || r.PricePerSeat > models.MaxPricePerSeat:
		return invalid("pricePerSeat", "must be between 0 and %d", models.MaxPricePerSeat)
	case utf8.RuneCountInString(r.Notes) > models.MaxNotesLength:
		return invalid("notes", "must be at most %d characters", models.MaxNotesLength)
	case r.DistanceKm != nil && *r.DistanceKm < 0:
		return invalid("distanceKm", "cannot be negative")
	case r.EstimatedDurationMinutes != nil && *r.EstimatedDurationMinutes < 0:
		return invalid("estimatedDurationMinutes", "cannot be negative")
	}
	if err := validateCoordinate("origin", r.OriginLat, r.OriginLng); err != nil {
		return err
	}
	return validateCoordinate("destination", r.DestinationLat, r.DestinationLng)
}

func validateCoordinate(field string, lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return invalid(field, "latitude and longitude must be given together")
	}
	if lat == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return invalid(field, "coordinates out of range")
	}
	return nil
}
