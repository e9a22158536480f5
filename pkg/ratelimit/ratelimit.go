package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision 한 요청에 대한 rate limit 판정
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 키(사용자 ID, IP 등) 단위 요청 제한
type Limiter interface {
	Allow(ctx context.Context, key string) (*Decision, error)
}

// TokenBucket implements the token bucket algorithm.
// capacity tokens are refilled evenly over window.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	return newTokenBucket(capacity, window, time.Now)
}

func newTokenBucket(capacity int, window time.Duration, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		perSecond:  float64(capacity) / window.Seconds(),
		lastRefill: now(),
		now:        now,
	}
}

// Take consumes one token if available
func (tb *TokenBucket) Take() *Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	d := &Decision{Limit: int(tb.capacity)}
	if tb.tokens >= 1 {
		tb.tokens--
		d.Allowed = true
	} else {
		missing := 1 - tb.tokens
		d.RetryAfter = time.Duration(math.Ceil(missing/tb.perSecond*1000)) * time.Millisecond
	}
	d.Remaining = int(tb.tokens)
	return d
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.perSecond)
	tb.lastRefill = now
}

func (tb *TokenBucket) full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens >= tb.capacity
}

// MemoryLimiter 단일 인스턴스용 키별 token bucket (Redis 가 없을 때 사용)
type MemoryLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*TokenBucket
	capacity int
	window   time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(capacity int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Decision, error) {
	return l.bucket(key).Take(), nil
}

func (l *MemoryLimiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.capacity, l.window, l.now)
	l.buckets[key] = b
	return b
}

// Sweep 가득 찬(한동안 안 쓰인) 버킷 제거
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.full() {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeper ctx 가 끝날 때까지 주기적으로 Sweep
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Reset 특정 키 초기화
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
