package ratelimit

import (
	"context"
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestTokenBucket_Take(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(5, 5*time.Second, clock.now) // 초당 1개 리필

	for i := 0; i < 5; i++ {
		if d := bucket.Take(); !d.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	d := bucket.Take()
	if d.Allowed {
		t.Fatal("6th request should be denied")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("expected retry after 1s, got %v", d.RetryAfter)
	}

	clock.t = clock.t.Add(time.Second)
	if d := bucket.Take(); !d.Allowed {
		t.Error("request after refill should be allowed")
	}
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(3, time.Second, clock.now)

	clock.t = clock.t.Add(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if bucket.Take().Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected 3 allowed after long idle, got %d", allowed)
	}
}

func TestMemoryLimiter_SeparateKeys(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := limiter.Allow(ctx, "user1"); !d.Allowed {
			t.Errorf("request %d for user1 should be allowed", i+1)
		}
	}

	if d, _ := limiter.Allow(ctx, "user1"); d.Allowed {
		t.Error("4th request for user1 should be denied")
	}

	if d, _ := limiter.Allow(ctx, "user2"); !d.Allowed {
		t.Error("first request for user2 should be allowed")
	}
}

func TestMemoryLimiter_SweepAndReset(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	limiter := NewMemoryLimiter(2, 2*time.Second)
	limiter.now = clock.now
	ctx := context.Background()

	limiter.Allow(ctx, "idle")
	limiter.Allow(ctx, "busy")
	limiter.Allow(ctx, "busy")

	clock.t = clock.t.Add(time.Second)
	if removed := limiter.Sweep(); removed != 1 {
		t.Errorf("expected only the refilled bucket to be swept, got %d", removed)
	}

	limiter.Reset("busy")
	if d, _ := limiter.Allow(ctx, "busy"); !d.Allowed || d.Remaining != 1 {
		t.Errorf("reset bucket should start full, got %+v", d)
	}
}
