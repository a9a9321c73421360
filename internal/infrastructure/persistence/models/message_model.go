package models

import "time"

// MessageModel is the database row for one chat log entry.
type MessageModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"index:idx_conv_created;size:64;not null"`
	Text           string `gorm:"type:text;not null"`
	Sender         string `gorm:"size:16;not null"` // user, bot
	Timestamp      int64  `gorm:"not null"`         // client send time, ms since epoch
	CreatedAt      time.Time `gorm:"index:idx_conv_created"`
	Generated      bool
}

// TableName pins the table name.
func (MessageModel) TableName() string {
	return "messages"
}
