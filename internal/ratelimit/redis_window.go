// Package ratelimit throttles job submissions per caller.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether subject may make one more request.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

const defaultKeyPrefix = "stylegen:ratelimit"

// RedisWindow allows limit requests per subject in each fixed window. The
// counters live in Redis, so every replica shares them.
type RedisWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*RedisWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (w *RedisWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	now := w.now()
	key, resetIn := w.slot(subject, now)

	var count *redis.IntCmd
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		// Expire a second after the window closes.
		pipe.PExpire(ctx, key, resetIn+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate counter: %w", err)
	}

	return w.decide(count.Val(), resetIn), nil
}

// slot names the counter for subject's current window and reports how long
// until that window ends.
func (w *RedisWindow) slot(subject string, now time.Time) (string, time.Duration) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	windowMS := w.window.Milliseconds()
	nowMS := now.UnixMilli()
	start := nowMS - nowMS%windowMS
	resetIn := time.Duration(start+windowMS-nowMS) * time.Millisecond
	return w.keyPrefix + ":" + subject + ":" + strconv.FormatInt(start, 10), resetIn
}

func (w *RedisWindow) decide(count int64, resetIn time.Duration) Decision {
	if count > w.limit {
		return Decision{RetryAfter: resetIn}
	}
	return Decision{Allowed: true, Remaining: w.limit - count}
}
