package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const MetadataEdited = "isEdited"

type Message struct {
	ID             string            `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string            `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       string            `gorm:"type:uuid;not null" json:"sender_id"`
	Body           string            `gorm:"not null" json:"body"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	ReplyToID      *string           `gorm:"type:uuid" json:"reply_to_id"`
	CreatedAt      time.Time         `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	// DeletedAt makes every default gorm query skip soft-deleted rows.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) Edited() bool {
	v, ok := m.Metadata[MetadataEdited].(bool)
	return ok && v
}

// Reaction is unique per (message, user): a second reaction replaces the first.
type Reaction struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID string    `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_message_user,priority:1" json:"message_id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_message_user,priority:2" json:"user_id"`
	Emoji     string    `gorm:"not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Reaction) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type MessageRead struct {
	MessageID string    `gorm:"type:uuid;primaryKey" json:"message_id"`
	UserID    string    `gorm:"type:uuid;primaryKey" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
