// Package service is the canonical read/write path for conversations,
// messages, reactions, pins and attachment reservations. Every operation
// checks capabilities through access.Checker before touching the store.
package service

import (
	"context"
	"time"

	"messaging-service/access"
	"messaging-service/audit"
	"messaging-service/blob"
	"messaging-service/cache"
	"messaging-service/config"
	"messaging-service/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Broadcaster pushes best-effort notifications to live viewers of a
// conversation. Clients must be able to re-fetch without them.
type Broadcaster interface {
	Refresh(conversationID string) error
	MessageNew(conversationID string, message model.MessageView) error
}

// JobQueue hands work to the background worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, action string, payload any) error
}

type Deps struct {
	DB        *gorm.DB
	Access    *access.Checker
	Cache     *cache.MessageCache
	Audit     audit.Recorder
	Broadcast Broadcaster
	Jobs      JobQueue
	Blob      blob.Store
	Policy    config.Policy
	UploadKey []byte
	Log       zerolog.Logger
	Now       func() time.Time
}

type Services struct {
	Conversations *Conversations
	Messages      *Messages
	Reactions     *Reactions
	Pins          *Pins
	Attachments   *Attachments
}

func New(d *Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Broadcast == nil {
		d.Broadcast = nopBroadcaster{}
	}
	attachments := &Attachments{d: d}
	return &Services{
		Conversations: &Conversations{d: d, attachments: attachments},
		Messages:      &Messages{d: d, attachments: attachments},
		Reactions:     &Reactions{d: d},
		Pins:          &Pins{d: d},
		Attachments:   attachments,
	}
}

func (d *Deps) refresh(conversationID string) {
	if err := d.Broadcast.Refresh(conversationID); err != nil {
		d.Log.Warn().Err(err).Str("conversation_id", conversationID).Msg("refresh broadcast failed")
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Refresh(string) error                        { return nil }
func (nopBroadcaster) MessageNew(string, model.MessageView) error { return nil }
