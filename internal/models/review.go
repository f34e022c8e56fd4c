package models

import (
	"gorm.io/gorm"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

type Review struct {
	gorm.Model
	ReviewerID     uint   `json:"reviewerId" gorm:"not null;uniqueIndex:idx_reviews_pair"`
	Reviewer       *User  `json:"reviewer,omitempty" gorm:"foreignKey:ReviewerID"`
	ReviewedUserID uint   `json:"reviewedUserId" gorm:"not null;uniqueIndex:idx_reviews_pair;index"`
	RideID         uint   `json:"rideId" gorm:"not null;uniqueIndex:idx_reviews_pair"`
	Rating         int    `json:"rating" gorm:"not null;check:rating_range,rating >= 1 AND rating <= 5"`
	Comment        string `json:"comment"`
}

// TableName specifies the table name
func (Review) TableName() string {
	return "reviews"
}
