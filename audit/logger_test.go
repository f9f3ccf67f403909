package audit

import (
	"context"
	"encoding/json"
	"testing"

	"messaging-service/model"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestRecordIsWrittenAsynchronously(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.AutoMigrate(&model.AuditLog{}))

	l := New(db, zerolog.Nop(), 8)
	l.Record(context.Background(), "u1", "message.send", "messages", "m1", map[string]any{"length": 5})
	l.Record(context.Background(), SystemActor, "attachment.scan", "attachments", "a1", nil)
	l.Close()

	var entries []model.AuditLog
	require.NoError(t, db.Order("id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "message.send", entries[0].Action)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.EqualValues(t, 5, payload["length"])
	assert.Equal(t, SystemActor, entries[1].Actor)
}

func TestWriteFailureDoesNotPanicOrBlock(t *testing.T) {
	// No migration: every insert fails and is only logged.
	l := New(openDB(t), zerolog.Nop(), 1)
	for i := 0; i < 10; i++ {
		l.Record(context.Background(), "u1", "message.edit", "messages", "m1", nil)
	}
	l.Close()

	l.Record(context.Background(), "u1", "message.edit", "messages", "m1", nil)
}
