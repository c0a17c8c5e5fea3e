package model

import (
	"time"
)

// Message is a direct chat message between two users. File fields are set
// when the message carries an attachment instead of, or alongside, text.
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SenderID   uint      `gorm:"not null;index:idx_message_pair" json:"sender_id"`
	ReceiverID uint      `gorm:"not null;index:idx_message_pair;index:idx_message_unread" json:"receiver_id"`
	Content    string    `gorm:"type:text" json:"content"`
	FileURL    string    `gorm:"size:1024" json:"file_url,omitempty"`
	FileName   string    `gorm:"size:255" json:"file_name,omitempty"`
	FileType   string    `gorm:"size:100" json:"file_type,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	IsRead     bool      `gorm:"not null;default:false;index:idx_message_unread" json:"is_read"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (m *Message) HasFile() bool {
	return m.FileURL != ""
}
