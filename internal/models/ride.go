package models

import (
	"time"

	"gorm.io/gorm"
)

type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusFull      RideStatus = "full"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
	RideStatusExpired   RideStatus = "expired"
)

const (
	MinSeats = 1
	MaxSeats = 7

	MaxPricePerSeat = 100000
	MaxNotesLength  = 500

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Ride struct {
	gorm.Model
	DriverID uint  `json:"driverId" gorm:"not null;index"`
	Driver   *User `json:"driver,omitempty" gorm:"foreignKey:DriverID"`

	Origin         string   `json:"origin" gorm:"not null"`
	Destination    string   `json:"destination" gorm:"not null"`
	OriginLat      *float64 `json:"originLat,omitempty"`
	OriginLng      *float64 `json:"originLng,omitempty"`
	DestinationLat *float64 `json:"destinationLat,omitempty"`
	DestinationLng *float64 `json:"destinationLng,omitempty"`

	DepartureDate string    `json:"departureDate" gorm:"not null;size:10"`
	DepartureTime string    `json:"departureTime" gorm:"not null;size:5"`
	DepartureAt   time.Time `json:"departureAt" gorm:"not null;index"`

	TotalSeats   int        `json:"totalSeats" gorm:"not null;check:total_seats_range,total_seats >= 1 AND total_seats <= 7"`
	SeatsTaken   int        `json:"seatsTaken" gorm:"not null;default:0"`
	PricePerSeat float64    `json:"pricePerSeat" gorm:"not null"`
	Status       RideStatus `json:"status" gorm:"not null;default:'active';index"`

	DistanceKm               *float64 `json:"distanceKm,omitempty"`
	EstimatedDurationMinutes *int     `json:"estimatedDurationMinutes,omitempty"`
	Notes                    string   `json:"notes"`
	VehicleType              string   `json:"vehicleType"`
	LuggageAllowed           bool     `json:"luggageAllowed"`
	PetsAllowed              bool     `json:"petsAllowed"`
	SmokingAllowed           bool     `json:"smokingAllowed"`
	MusicAllowed             bool     `json:"musicAllowed"`
	ACAvailable              bool     `json:"acAvailable"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// AvailableSeats is only meaningful while the ride is active or full.
func (r *Ride) AvailableSeats() int {
	if !r.IsOpen() {
		return 0
	}
	if n := r.TotalSeats - r.SeatsTaken; n > 0 {
		return n
	}
	return 0
}

// IsOpen reports whether the ride is still in service.
func (r *Ride) IsOpen() bool {
	return r.Status == RideStatusActive || r.Status == RideStatusFull
}
