package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"messaging-service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(clock *fakeClock) *MessageCache {
	return New(Options{TTL: 5 * time.Minute, Capacity: 4, Window: 3, Shards: 1, Now: clock.Now})
}

func msg(id string) model.MessageView {
	return model.NewMessageView(&model.Message{ID: id, ConversationID: "c1", SenderID: "u1", Body: "body " + id})
}

func TestGetExpiresAfterTTLSinceLastWrite(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)

	c.Put("c1", []model.MessageView{msg("m1")})
	clock.Advance(4 * time.Minute)
	c.Prepend("c1", msg("m2"))
	clock.Advance(4 * time.Minute)

	entry, ok := c.Get("c1")
	require.True(t, ok, "prepend refreshes the write time")
	assert.Len(t, entry.Messages, 2)

	clock.Advance(time.Minute)
	_, ok = c.Get("c1")
	assert.False(t, ok)
}

func TestPrependTrimsToWindowAndIgnoresMissingEntry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)

	c.Prepend("absent", msg("m0"))
	_, ok := c.Get("absent")
	assert.False(t, ok)

	c.Put("c1", []model.MessageView{msg("m3"), msg("m2"), msg("m1")})
	c.Prepend("c1", msg("m4"))

	entry, ok := c.Get("c1")
	require.True(t, ok)
	ids := []string{}
	for _, m := range entry.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m4", "m3", "m2"}, ids)
}

func TestMutateReactionKeepsOnePerUser(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)
	c.Put("c1", []model.MessageView{msg("m1")})

	c.MutateReaction("c1", "m1", "u2", "👍", true)
	c.MutateReaction("c1", "m1", "u2", "❤️", true)
	c.MutateReaction("c1", "m1", "u3", "👍", true)

	entry, _ := c.Get("c1")
	require.Len(t, entry.Messages[0].Reactions, 2)
	assert.Equal(t, "❤️", entry.Messages[0].Reactions[0].Emoji)

	c.MutateReaction("c1", "m1", "u2", "❤️", false)
	entry, _ = c.Get("c1")
	require.Len(t, entry.Messages[0].Reactions, 1)
	assert.Equal(t, "u3", entry.Messages[0].Reactions[0].UserID)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)
	c.Put("c1", []model.MessageView{msg("m1")})

	entry, _ := c.Get("c1")
	entry.Messages[0].Body = "tampered"
	entry.Messages[0].Reactions = append(entry.Messages[0].Reactions, model.ReactionView{UserID: "x"})

	again, _ := c.Get("c1")
	assert.Equal(t, "body m1", again.Messages[0].Body)
	assert.Empty(t, again.Messages[0].Reactions)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("c%d", i), []model.MessageView{msg("m")})
	}
	_, _ = c.Get("c0")
	c.Put("c4", []model.MessageView{msg("m")})

	assert.Equal(t, 4, c.Len())
	_, ok := c.Get("c0")
	assert.True(t, ok)
	_, ok = c.Get("c1")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)
	c.Put("c1", []model.MessageView{msg("m1")})
	c.Invalidate("c1")
	_, ok := c.Get("c1")
	assert.False(t, ok)
}

func TestConcurrentWriters(t *testing.T) {
	c := New(Options{TTL: time.Minute, Capacity: 64, Window: 100, Shards: 8})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		conv := fmt.Sprintf("c%d", i%4)
		c.Put(conv, nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Prepend(conv, msg(fmt.Sprintf("m%d-%d", i, j)))
				c.MutateReaction(conv, fmt.Sprintf("m%d-%d", i, j), "u", "👍", true)
				_, _ = c.Get(conv)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		entry, ok := c.Get(fmt.Sprintf("c%d", i))
		require.True(t, ok)
		assert.Len(t, entry.Messages, 100)
	}
}
