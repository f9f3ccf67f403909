package router

import (
	"context"
	"testing"
	"time"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/blob"
	"messaging-service/cache"
	"messaging-service/config"
	"messaging-service/database"
	"messaging-service/model"
	"messaging-service/ratelimit"
	"messaging-service/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const community = "c0000000-0000-0000-0000-000000000001"

var (
	alice = access.Caller{ID: "u-alice", CommunityID: community}
	bob   = access.Caller{ID: "u-bob", CommunityID: community}
	carol = access.Caller{ID: "u-carol", CommunityID: community}
)

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, string, any) {}

func newEvents(t *testing.T, messagesPerMinute int, connected ...string) *socketEvents {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	for _, u := range []access.Caller{alice, bob, carol} {
		require.NoError(t, db.Create(&model.User{ID: u.ID, CommunityID: u.CommunityID, Username: u.ID}).Error)
	}

	m, err := casbinmodel.NewModelFromString(config.RBACModel)
	require.NoError(t, err)
	e, err := casbin.NewEnforcer(m)
	require.NoError(t, err)
	require.NoError(t, database.SeedPolicy(e))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	policy := config.DefaultPolicy()
	checker := access.NewChecker(db, e)
	services := service.New(&service.Deps{
		DB:        db,
		Access:    checker,
		Cache:     cache.New(cache.Options{TTL: time.Minute, Window: policy.Cache.Window}),
		Audit:     nopAudit{},
		Blob:      blob.NewMemoryStore(),
		Policy:    policy,
		UploadKey: []byte("upload-key"),
		Log:       zerolog.Nop(),
	})

	online := map[string]bool{}
	for _, id := range connected {
		online[id] = true
	}
	return &socketEvents{
		opts: SocketOptions{
			Services: services,
			Checker:  checker,
			Limiter: ratelimit.New(rdb, map[string]config.RateRule{
				"message": {Limit: messagesPerMinute, Window: time.Minute},
			}),
			Log: zerolog.Nop(),
		},
		online: func(id string) bool { return online[id] },
	}
}

func (e *socketEvents) direct(t *testing.T) string {
	t.Helper()
	id, err := e.opts.Services.Conversations.CreateDirect(context.Background(), alice, bob.ID)
	require.NoError(t, err)
	return id
}

func TestSocketJoinRequiresParticipant(t *testing.T) {
	e := newEvents(t, 10)
	ctx := context.Background()
	id := e.direct(t)

	assert.Equal(t, JoinResult{ConversationID: id, Joined: true}, e.join(ctx, bob, id))
	assert.Equal(t, JoinResult{ConversationID: id, Joined: false}, e.join(ctx, carol, id))
	assert.False(t, e.join(ctx, alice, "missing").Joined)
}

func TestSocketSendAndList(t *testing.T) {
	e := newEvents(t, 10)
	ctx := context.Background()
	id := e.direct(t)

	data, err := e.send(ctx, alice, []interface{}{id, "hi bob"})
	require.NoError(t, err)
	sent, ok := data.(model.MessageView)
	require.True(t, ok)
	assert.Equal(t, "hi bob", sent.Body)
	assert.Equal(t, alice.ID, sent.SenderID)

	data, err = e.messages(ctx, bob, []interface{}{id})
	require.NoError(t, err)
	msgs := data.([]model.MessageView)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	data, err = e.conversations(ctx, bob, nil)
	require.NoError(t, err)
	convs := data.([]model.ConversationView)
	require.Len(t, convs, 1)
	assert.Equal(t, id, convs[0].ID)

	data, err = e.read(ctx, bob, []interface{}{id})
	require.NoError(t, err)
	assert.Equal(t, fiber.Map{"conversationId": id, "marked": 1}, data)
}

func TestSocketRejectsOutsiders(t *testing.T) {
	e := newEvents(t, 10)
	ctx := context.Background()
	id := e.direct(t)

	_, err := e.send(ctx, carol, []interface{}{id, "let me in"})
	assert.True(t, apperr.Is(err, apperr.KindAccessDenied))
	_, err = e.messages(ctx, carol, []interface{}{id})
	assert.True(t, apperr.Is(err, apperr.KindAccessDenied))
	_, err = e.read(ctx, carol, []interface{}{id})
	assert.True(t, apperr.Is(err, apperr.KindAccessDenied))

	reply := e.reply(EventMessageSend, carol, nil, err)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "not a participant of this conversation", reply["message"])
	assert.Nil(t, reply["data"])
}

func TestSocketSendIsRateLimited(t *testing.T) {
	e := newEvents(t, 2)
	ctx := context.Background()
	id := e.direct(t)

	for i := 0; i < 2; i++ {
		_, err := e.send(ctx, alice, []interface{}{id, "spam"})
		require.NoError(t, err)
	}
	_, err := e.send(ctx, alice, []interface{}{id, "spam"})
	assert.True(t, apperr.Is(err, apperr.KindTooManyRequests))

	// Budgets are per caller.
	_, err = e.send(ctx, bob, []interface{}{id, "still fine"})
	assert.NoError(t, err)
}

func TestSocketSendValidatesArguments(t *testing.T) {
	e := newEvents(t, 10)
	ctx := context.Background()
	id := e.direct(t)

	_, err := e.send(ctx, alice, []interface{}{id, 42})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = e.send(ctx, alice, []interface{}{id, "x", "not-a-list"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = e.send(ctx, alice, []interface{}{id, ""})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSocketUserStatus(t *testing.T) {
	e := newEvents(t, 10, bob.ID)
	ctx := context.Background()
	e.direct(t)
	_, err := e.opts.Services.Conversations.CreateDirect(ctx, alice, carol.ID)
	require.NoError(t, err)

	data, err := e.status(ctx, alice, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []UserStatus{
		{ID: bob.ID, Online: true},
		{ID: carol.ID, Online: false},
	}, data)

	data, err = e.status(ctx, carol, nil)
	require.NoError(t, err)
	assert.Equal(t, []UserStatus{{ID: alice.ID, Online: false}}, data)
}

func TestSocketReplyEnvelope(t *testing.T) {
	e := newEvents(t, 10)
	reply := e.reply(EventConversationList, alice, []string{"a"}, nil)
	assert.Equal(t, fiber.Map{"status": "success", "message": nil, "data": []string{"a"}}, reply)
}
