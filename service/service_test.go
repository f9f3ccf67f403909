package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"messaging-service/access"
	"messaging-service/blob"
	"messaging-service/cache"
	"messaging-service/config"
	"messaging-service/database"
	"messaging-service/model"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const community = "c0000000-0000-0000-0000-000000000001"

var (
	alice = access.Caller{ID: "u-alice", CommunityID: community}
	bob   = access.Caller{ID: "u-bob", CommunityID: community}
	carol = access.Caller{ID: "u-carol", CommunityID: community}
	admin = access.Caller{ID: "u-admin", CommunityID: community}
)

type auditEntry struct {
	Actor, Action, Table, ID string
}

type recorder struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recorder) Record(_ context.Context, actor, action, table, id string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{actor, action, table, id})
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type broadcaster struct {
	mu        sync.Mutex
	refreshed []string
	messages  []model.MessageView
	fail      bool
}

func (b *broadcaster) Refresh(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshed = append(b.refreshed, id)
	if b.fail {
		return errBroadcast
	}
	return nil
}

func (b *broadcaster) MessageNew(_ string, m model.MessageView) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, m)
	if b.fail {
		return errBroadcast
	}
	return nil
}

var errBroadcast = errors.New("socket unavailable")

// clock advances one millisecond per reading so rows get distinct timestamps.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type harness struct {
	*Services
	deps      *Deps
	db        *gorm.DB
	blob      *blob.MemoryStore
	cache     *cache.MessageCache
	audit     *recorder
	broadcast *broadcaster
	enforcer  *casbin.Enforcer
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := openDB(t)

	m, err := casbinmodel.NewModelFromString(config.RBACModel)
	require.NoError(t, err)
	e, err := casbin.NewEnforcer(m)
	require.NoError(t, err)
	require.NoError(t, database.SeedPolicy(e))
	require.NoError(t, access.GrantAdmin(e, admin.ID, community))

	for _, u := range []access.Caller{alice, bob, carol, admin} {
		require.NoError(t, db.Create(&model.User{ID: u.ID, CommunityID: u.CommunityID, Username: u.ID}).Error)
	}

	clk := &clock{t: time.Now().UTC()}
	policy := config.DefaultPolicy()
	h := &harness{
		db:        db,
		blob:      blob.NewMemoryStore(),
		cache:     cache.New(cache.Options{TTL: time.Hour, Window: policy.Cache.Window, Now: clk.Now}),
		audit:     &recorder{},
		broadcast: &broadcaster{},
		enforcer:  e,
	}
	h.deps = &Deps{
		DB:        db,
		Access:    access.NewChecker(db, e),
		Cache:     h.cache,
		Audit:     h.audit,
		Broadcast: h.broadcast,
		Blob:      h.blob,
		Policy:    policy,
		UploadKey: []byte("upload-secret"),
		Log:       zerolog.Nop(),
		Now:       clk.Now,
	}
	h.Services = New(h.deps)
	return h
}

// direct creates the alice/bob conversation.
func (h *harness) direct(t *testing.T) string {
	t.Helper()
	id, err := h.Conversations.CreateDirect(context.Background(), alice, bob.ID)
	require.NoError(t, err)
	return id
}

func (h *harness) send(t *testing.T, caller access.Caller, conversationID, body string) model.MessageView {
	t.Helper()
	msg, err := h.Messages.Send(context.Background(), caller, conversationID, SendInput{Body: body})
	require.NoError(t, err)
	return msg
}

// upload reserves an attachment and marks the blob as landed.
func (h *harness) upload(t *testing.T, caller access.Caller, conversationID, name, contentType string) (UploadGrant, *model.Attachment) {
	t.Helper()
	grant, err := h.Attachments.RequestUploadToken(context.Background(), caller, UploadRequest{
		ConversationID: conversationID,
		FileName:       name,
		Size:           128,
		ContentType:    contentType,
	})
	require.NoError(t, err)
	require.NoError(t, h.blob.Put(context.Background(), h.deps.Policy.Upload.Bucket, grant.FilePath, contentType, []byte("data")))

	a := new(model.Attachment)
	require.NoError(t, h.db.First(a, "id = ?", grant.AttachmentID).Error)
	return grant, a
}
