package models

import (
	"time"

	"gorm.io/gorm"
)

// UserBlock rows are hard-deleted on unblock so the pair index stays usable.
type UserBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `json:"blockerId" gorm:"not null;uniqueIndex:idx_user_blocks_pair"`
	BlockedID uint      `json:"blockedId" gorm:"not null;uniqueIndex:idx_user_blocks_pair;index"`
	Blocked   *User     `json:"blocked,omitempty" gorm:"foreignKey:BlockedID"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (UserBlock) TableName() string {
	return "user_blocks"
}

type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "pending"
	ReportStatusReviewed ReportStatus = "reviewed"
	ReportStatusResolved ReportStatus = "resolved"
)

type UserReport struct {
	gorm.Model
	ReporterID     uint         `json:"reporterId" gorm:"not null;index"`
	Reporter       *User        `json:"reporter,omitempty" gorm:"foreignKey:ReporterID"`
	ReportedUserID uint         `json:"reportedUserId" gorm:"not null;index"`
	ReportedUser   *User        `json:"reportedUser,omitempty" gorm:"foreignKey:ReportedUserID"`
	RideID         *uint        `json:"rideId,omitempty"`
	Reason         string       `json:"reason" gorm:"not null"`
	Status         ReportStatus `json:"status" gorm:"not null;default:'pending';index"`
	AdminNotes     string       `json:"adminNotes"`
}

// TableName specifies the table name
func (UserReport) TableName() string {
	return "user_reports"
}
