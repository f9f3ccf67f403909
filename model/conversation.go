package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Conversation struct {
	ID          string  `gorm:"type:uuid;primaryKey" json:"id"`
	CommunityID string  `gorm:"type:uuid;not null;index" json:"community_id"`
	Title       *string `json:"title"`
	IsGroup     bool    `gorm:"not null;default:false" json:"is_group"`
	// IsDefault marks system-provisioned conversations that can only be left.
	IsDefault bool    `gorm:"not null;default:false" json:"is_default"`
	Color     *string `json:"color"`
	// DirectKey is the sorted member pair of a direct conversation; the
	// unique index keeps one direct conversation per pair.
	DirectKey *string `gorm:"uniqueIndex" json:"-"`

	BackgroundColor *string `json:"background_color"`
	BubbleColor     *string `json:"bubble_color"`
	TextColor       *string `json:"text_color"`
	Emoji           *string `json:"emoji"`

	CreatedBy string    `gorm:"not null" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func DirectKeyFor(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type Participant struct {
	ConversationID string    `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         string    `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

type PinnedMessage struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	MessageID      string    `gorm:"type:uuid;not null;uniqueIndex" json:"message_id"`
	PinnedBy       string    `gorm:"type:uuid;not null" json:"pinned_by"`
	PinnedAt       time.Time `gorm:"autoCreateTime" json:"pinned_at"`
}

func (p *PinnedMessage) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
