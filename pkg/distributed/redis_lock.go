package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// 자신이 잡은 락만 해제
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLock SETNX 기반 분산 락 (reaper 단일 실행 보장용)
type RedisLock struct {
	client redis.UniversalClient
	key    string
	owner  string
}

type RedisLockManager struct {
	client redis.UniversalClient
}

func NewRedisLockManager(client redis.UniversalClient) *RedisLockManager {
	return &RedisLockManager{client: client}
}

// AcquireLock 락 획득 시도. 이미 잡혀 있으면 ErrLockNotAcquired
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (*RedisLock, error) {
	ok, err := m.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{client: m.client, key: key, owner: owner}, nil
}

// WithLock 락을 잡은 경우에만 fn 실행. 다른 인스턴스가 잡고 있으면 (false, nil)
func (m *RedisLockManager) WithLock(ctx context.Context, key, owner string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock, err := m.AcquireLock(ctx, key, owner, ttl)
	if errors.Is(err, ErrLockNotAcquired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	defer func() {
		// 만료 후 다른 소유자가 잡았을 수 있음
		_ = lock.Release(context.Background())
	}()

	return true, fn(ctx)
}

// Release 락 해제
func (l *RedisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
