// Package cache holds a short-lived window of recent messages per
// conversation. It is a read-latency optimisation only: every entry can be
// rebuilt from the store and nothing treats it as authoritative.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"

	"messaging-service/model"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Subsystem: "message_cache",
		Name:      "lookups_total",
		Help:      "Message cache lookups by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(lookups)
}

type Options struct {
	// TTL is measured from the last write to an entry.
	TTL time.Duration
	// Capacity bounds the number of conversations held across all shards.
	Capacity int
	// Window bounds the number of messages kept per conversation.
	Window int
	Shards int
	Now    func() time.Time
}

// Entry is a copy; mutating it does not affect the cache.
type Entry struct {
	Messages  []model.MessageView
	UpdatedAt time.Time
}

type item struct {
	key       string
	messages  []model.MessageView
	updatedAt time.Time
}

type shard struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	capacity int
}

type MessageCache struct {
	shards []*shard
	ttl    time.Duration
	window int
	now    func() time.Time
}

func New(opts Options) *MessageCache {
	if opts.Shards <= 0 {
		opts.Shards = 16
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.Window <= 0 {
		opts.Window = 50
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	perShard := opts.Capacity / opts.Shards
	if perShard < 1 {
		perShard = 1
	}

	c := &MessageCache{
		shards: make([]*shard, opts.Shards),
		ttl:    opts.TTL,
		window: opts.Window,
		now:    opts.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items:    make(map[string]*list.Element),
			lru:      list.New(),
			capacity: perShard,
		}
	}
	return c
}

func (c *MessageCache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// lookup returns the live element for key, dropping it if expired. The shard
// lock must be held.
func (c *MessageCache) lookup(s *shard, key string) (*item, bool) {
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	it := el.Value.(*item)
	if c.now().Sub(it.updatedAt) >= c.ttl {
		s.lru.Remove(el)
		delete(s.items, key)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return it, true
}

func (c *MessageCache) Get(conversationID string) (Entry, bool) {
	s := c.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := c.lookup(s, conversationID)
	if !ok {
		lookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	lookups.WithLabelValues("hit").Inc()
	return Entry{Messages: cloneAll(it.messages), UpdatedAt: it.updatedAt}, true
}

// Put replaces the window for a conversation. Messages are ordered newest
// first and trimmed to the configured window.
func (c *MessageCache) Put(conversationID string, messages []model.MessageView) {
	s := c.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := cloneAll(messages)
	if len(msgs) > c.window {
		msgs = msgs[:c.window]
	}

	if el, ok := s.items[conversationID]; ok {
		it := el.Value.(*item)
		it.messages = msgs
		it.updatedAt = c.now()
		s.lru.MoveToFront(el)
		return
	}

	s.items[conversationID] = s.lru.PushFront(&item{key: conversationID, messages: msgs, updatedAt: c.now()})
	for s.lru.Len() > s.capacity {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.items, oldest.Value.(*item).key)
	}
}

// Prepend adds a new message to the front of a live window. Without a live
// entry it does nothing; the next read repopulates from the store.
func (c *MessageCache) Prepend(conversationID string, message model.MessageView) {
	s := c.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := c.lookup(s, conversationID)
	if !ok {
		return
	}
	msgs := make([]model.MessageView, 0, len(it.messages)+1)
	msgs = append(msgs, message.Clone())
	for _, m := range it.messages {
		if m.ID != message.ID {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > c.window {
		msgs = msgs[:c.window]
	}
	it.messages = msgs
	it.updatedAt = c.now()
}

// MutateReaction mirrors a reaction toggle. Adding replaces any reaction the
// user already had on the message.
func (c *MessageCache) MutateReaction(conversationID, messageID, userID, emoji string, added bool) {
	s := c.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := c.lookup(s, conversationID)
	if !ok {
		return
	}
	for i := range it.messages {
		m := &it.messages[i]
		if m.ID != messageID {
			continue
		}
		kept := make([]model.ReactionView, 0, len(m.Reactions)+1)
		for _, r := range m.Reactions {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		if added {
			kept = append(kept, model.ReactionView{UserID: userID, Emoji: emoji, CreatedAt: c.now()})
		}
		m.Reactions = kept
		it.updatedAt = c.now()
		return
	}
}

func (c *MessageCache) Invalidate(conversationID string) {
	s := c.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[conversationID]; ok {
		s.lru.Remove(el)
		delete(s.items, conversationID)
	}
}

func (c *MessageCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

func cloneAll(in []model.MessageView) []model.MessageView {
	out := make([]model.MessageView, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
