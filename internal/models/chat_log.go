package models

import "time"

type ChatLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `json:"userId" gorm:"not null;index"`
	Message    string    `json:"message" gorm:"not null"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokensUsed"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

// TableName specifies the table name
func (ChatLog) TableName() string {
	return "chat_logs"
}
