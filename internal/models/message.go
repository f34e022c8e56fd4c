package models

import (
	"time"

	"gorm.io/gorm"
)

const MaxMessageLength = 2000

type Message struct {
	gorm.Model
	SenderID   uint   `json:"senderId" gorm:"not null;index"`
	ReceiverID uint   `json:"receiverId" gorm:"not null;index"`
	RideID     *uint  `json:"rideId,omitempty" gorm:"index"`
	Content    string `json:"content" gorm:"not null"`
	IsRead     bool   `json:"isRead" gorm:"default:false"`
}

// TableName specifies the table name
func (Message) TableName() string {
	return "messages"
}

// Conversation summarises the thread between the current user and another user.
type Conversation struct {
	OtherUserID   uint      `json:"otherUserId"`
	OtherUserName string    `json:"otherUserName"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int64     `json:"unreadCount"`
}
