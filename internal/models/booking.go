package models

import (
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusRejected, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// HoldsSeat reports whether a booking in this status is counted in Ride.SeatsTaken.
func (s BookingStatus) HoldsSeat() bool {
	return s == BookingStatusConfirmed || s == BookingStatusCompleted
}

type Booking struct {
	gorm.Model
	RideID      uint          `json:"rideId" gorm:"not null;index"`
	Ride        *Ride         `json:"ride,omitempty" gorm:"foreignKey:RideID"`
	PassengerID uint          `json:"passengerId" gorm:"not null;index"`
	Passenger   *User         `json:"passenger,omitempty" gorm:"foreignKey:PassengerID"`
	Status      BookingStatus `json:"status" gorm:"not null;default:'pending';index"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}
