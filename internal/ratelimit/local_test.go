package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterPerSubject(t *testing.T) {
	l, err := NewLocalLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "alice")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i, d, err)
		}
	}

	d, _ := l.Allow(ctx, "alice")
	if d.Allowed {
		t.Fatal("third request should be throttled")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Second {
		t.Fatalf("unexpected retry-after %s", d.RetryAfter)
	}

	if d, _ := l.Allow(ctx, "bob"); !d.Allowed {
		t.Fatal("other subjects must have their own bucket")
	}

	now = now.Add(30 * time.Second)
	if d, _ := l.Allow(ctx, "alice"); !d.Allowed {
		t.Fatal("bucket should refill after the interval")
	}
}

func TestNewLocalLimiterValidates(t *testing.T) {
	if _, err := NewLocalLimiter(0, time.Minute); err == nil {
		t.Fatal("expected capacity error")
	}
	if _, err := NewLocalLimiter(1, 0); err == nil {
		t.Fatal("expected window error")
	}
}
