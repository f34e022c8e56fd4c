package models

import (
	"time"
)

// DriverLocation is the driver's last shared position for a ride in progress. There is
// one row per ride, overwritten on every update and removed with the ride.
type DriverLocation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RideID    uint      `json:"rideId" gorm:"not null;uniqueIndex"`
	DriverID  uint      `json:"driverId" gorm:"not null;index"`
	Latitude  float64   `json:"lat" gorm:"not null"`
	Longitude float64   `json:"lng" gorm:"not null"`
	Heading   float64   `json:"heading" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (DriverLocation) TableName() string {
	return "driver_locations"
}
