package models

import (
	"time"

	"gorm.io/gorm"
)

// OTPType defines the purpose of the OTP
type OTPType string

const (
	OTPTypePasswordReset     OTPType = "password_reset"
	OTPTypeEmailVerification OTPType = "email_verification"
)

// OTP model for storing one-time passwords
type OTP struct {
	gorm.Model
	UserID    uint      `json:"userId" gorm:"index"`
	Code      string    `json:"-"`
	Type      OTPType   `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used" gorm:"default:false"`
}

// IsValid checks if the OTP is valid (not expired and not used)
func (o *OTP) IsValid(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}
