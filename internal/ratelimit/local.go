package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per subject, used when the
// limit does not need to be shared across replicas.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	capacity int
	every    rate.Limit
	now      func() time.Time
}

func NewLocalLimiter(capacity int, window time.Duration) (*LocalLimiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	return &LocalLimiter{
		buckets:  make(map[string]*rate.Limiter),
		capacity: capacity,
		every:    rate.Every(window / time.Duration(capacity)),
		now:      time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	l.mu.Lock()
	b, ok := l.buckets[subject]
	if !ok {
		b = rate.NewLimiter(l.every, l.capacity)
		l.buckets[subject] = b
	}
	l.mu.Unlock()

	now := l.now()
	r := b.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: int64(math.Floor(b.TokensAt(now))),
	}, nil
}
