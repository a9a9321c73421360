package models

import "time"

// ConversationModel is the database row for conversation metadata.
// The last-message summary is denormalized for list views.
type ConversationModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	UserID            string `gorm:"index;size:64"`
	Title             string `gorm:"size:256"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Archived          bool
	Deleted           bool
	LastMessageText   string `gorm:"type:text"`
	LastMessageSender string `gorm:"size:16"`
	LastMessageAt     *time.Time
}

// TableName pins the table name.
func (ConversationModel) TableName() string {
	return "conversations"
}
