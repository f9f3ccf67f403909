// Package ratelimit throttles mutating requests per (caller, action class)
// with sliding-window counters kept in Redis sorted sets.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"messaging-service/apperr"
	"messaging-service/config"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Class string

const (
	ClassMessage      Class = "message"
	ClassUpload       Class = "upload"
	ClassConversation Class = "conversation"
	ClassReaction     Class = "reaction"
)

var rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "messaging",
	Subsystem: "ratelimit",
	Name:      "rejections_total",
	Help:      "Requests rejected by the rate limiter.",
}, []string{"class"})

func init() {
	prometheus.MustRegister(rejections)
}

// slidingWindow drops entries older than the window, then admits the request
// only if the remaining count is under the limit. Returns {allowed, retryAfterMs}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

type Limiter struct {
	rdb    redis.Scripter
	rules  map[Class]config.RateRule
	prefix string
	now    func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

func New(rdb redis.Scripter, rules map[string]config.RateRule, opts ...Option) *Limiter {
	l := &Limiter{
		rdb:    rdb,
		rules:  make(map[Class]config.RateRule, len(rules)),
		prefix: "ratelimit",
		now:    time.Now,
	}
	for class, rule := range rules {
		l.rules[Class(class)] = rule
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request for caller in class. It fails closed: when the
// window is full it returns TooManyRequests with a retry-after hint, and when
// Redis cannot be reached it returns an upstream failure.
func (l *Limiter) Check(ctx context.Context, caller string, class Class) error {
	rule, ok := l.rules[class]
	if !ok {
		return nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, class, caller)
	now := l.now().UnixMilli()
	res, err := slidingWindow.Run(ctx, l.rdb, []string{key},
		now, rule.Window.Milliseconds(), rule.Limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return apperr.Upstream("rate limiter", err)
	}

	if res[0] == 1 {
		return nil
	}

	rejections.WithLabelValues(string(class)).Inc()
	retry := time.Duration(res[1]) * time.Millisecond
	if retry < time.Millisecond {
		retry = time.Millisecond
	}
	return apperr.TooManyRequests(retry)
}
