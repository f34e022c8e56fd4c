package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email                 string     `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Password              string     `gorm:"-:all" json:"-"` // plaintext, only set while hashing
	PasswordHash          string     `gorm:"column:password_hash;not null" json:"-"`
	FullName              string     `gorm:"column:full_name;not null" json:"fullName"`
	Phone                 string     `gorm:"column:phone" json:"phone"`
	ProfilePhoto          string     `gorm:"column:profile_photo" json:"profilePhoto"`
	Bio                   string     `gorm:"column:bio" json:"bio"`
	IsVerified            bool       `gorm:"column:is_verified;default:false" json:"isVerified"`
	IsDriver              bool       `gorm:"column:is_driver;default:false" json:"isDriver"`
	DriversLicense        string     `gorm:"column:drivers_license" json:"-"`
	VehicleMake           string     `gorm:"column:vehicle_make" json:"vehicleMake"`
	VehicleModel          string     `gorm:"column:vehicle_model" json:"vehicleModel"`
	LicensePlate          string     `gorm:"column:license_plate" json:"licensePlate"`
	EmergencyContactName  string     `gorm:"column:emergency_contact_name" json:"emergencyContactName"`
	EmergencyContactPhone string     `gorm:"column:emergency_contact_phone" json:"emergencyContactPhone"`
	IsActive              bool       `gorm:"column:is_active;default:true" json:"isActive"`
	IsAdmin               bool       `gorm:"column:is_admin;default:false" json:"isAdmin"`
	IsBanned              bool       `gorm:"column:is_banned;default:false" json:"isBanned"`
	LastLogin             *time.Time `gorm:"column:last_login" json:"lastLogin,omitempty"`
	FCMToken              string     `gorm:"column:fcm_token" json:"-"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	u.Password = ""
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// FirstName is what other users see in notifications.
func (u *User) FirstName() string {
	name := strings.TrimSpace(u.FullName)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// PublicProfile is the view of a user that other users may see.
type PublicProfile struct {
	ID           uint      `json:"id"`
	FullName     string    `json:"fullName"`
	ProfilePhoto string    `json:"profilePhoto"`
	Bio          string    `json:"bio"`
	IsDriver     bool      `json:"isDriver"`
	IsVerified   bool      `json:"isVerified"`
	VehicleMake  string    `json:"vehicleMake,omitempty"`
	VehicleModel string    `json:"vehicleModel,omitempty"`
	MemberSince  time.Time `json:"memberSince"`
	AvgRating    *float64  `json:"avgRating"`
	ReviewCount  int64     `json:"reviewCount"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:           u.ID,
		FullName:     u.FullName,
		ProfilePhoto: u.ProfilePhoto,
		Bio:          u.Bio,
		IsDriver:     u.IsDriver,
		IsVerified:   u.IsVerified,
		VehicleMake:  u.VehicleMake,
		VehicleModel: u.VehicleModel,
		MemberSince:  u.CreatedAt,
	}
}
