// Package audit appends a record of every mutating action. Writes are
// fire-and-forget: a failed or dropped record never fails the caller.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"messaging-service/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const SystemActor = "system"

// Recorder is what the store layer and the pipeline depend on.
type Recorder interface {
	Record(ctx context.Context, actor, action, targetTable, targetID string, payload any)
}

type Logger struct {
	db     *gorm.DB
	log    zerolog.Logger
	queue  chan model.AuditLog
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

func New(db *gorm.DB, log zerolog.Logger, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 1024
	}
	l := &Logger{
		db:    db,
		log:   log.With().Str("component", "audit").Logger(),
		queue: make(chan model.AuditLog, buffer),
		now:   time.Now,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) Record(_ context.Context, actor, action, targetTable, targetID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn().Err(err).Str("action", action).Msg("audit payload not serialisable")
		raw = []byte("null")
	}

	entry := model.AuditLog{
		Actor:       actor,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Payload:     raw,
		CreatedAt:   l.now(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.Warn().Str("action", action).Str("target_id", targetID).Msg("audit logger closed, record dropped")
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.log.Error().Str("action", action).Str("target_id", targetID).Msg("audit buffer full, record dropped")
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	for entry := range l.queue {
		if err := l.db.Create(&entry).Error; err != nil {
			l.log.Error().Err(err).
				Str("actor", entry.Actor).
				Str("action", entry.Action).
				Str("target_id", entry.TargetID).
				Msg("failed to write audit record")
		}
	}
}

// Close stops accepting records and waits until queued ones are written.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	l.wg.Wait()
}
