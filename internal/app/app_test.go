package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/codeduel/duel-backend/internal/config"
	"github.com/codeduel/duel-backend/internal/repository"
	"github.com/codeduel/duel-backend/internal/service"
	"github.com/codeduel/duel-backend/pkg/distributed"
	"github.com/codeduel/duel-backend/pkg/ratelimit"
)

type allowTopics struct {
	calls int
}

func (a *allowTopics) CanSubscribe(context.Context, string, string) error {
	a.calls++
	return nil
}

func newRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLateAuthorizer(t *testing.T) {
	auth := newLateAuthorizer()
	assert.ErrorIs(t, auth.CanSubscribe(context.Background(), "u1", "queue:ranked"), service.ErrUnauthorized)

	target := &allowTopics{}
	auth.target = target
	assert.NoError(t, auth.CanSubscribe(context.Background(), "u1", "queue:ranked"))
	assert.Equal(t, 1, target.calls)
}

func TestProvideMatchStore(t *testing.T) {
	store, err := provideMatchStore(&config.Config{MatchStore: config.MatchStorePostgres}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &repository.MatchRepository{}, store)

	_, err = provideMatchStore(&config.Config{MatchStore: config.MatchStoreRedis}, nil, nil)
	assert.Error(t, err)

	store, err = provideMatchStore(&config.Config{MatchStore: config.MatchStoreRedis}, nil, newRedis(t))
	require.NoError(t, err)
	assert.IsType(t, &distributed.RedisMatchStore{}, store)

	_, err = provideMatchStore(&config.Config{MatchStore: "mongo"}, nil, nil)
	assert.Error(t, err)
}

func TestProvideSettlementQueue(t *testing.T) {
	assert.Nil(t, provideSettlementQueue(nil))
	assert.NotNil(t, provideSettlementQueue(newRedis(t)))
}

func TestProvideQueueLimiter(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	assert.Nil(t, provideQueueLimiter(lc, &config.Config{QueueRateLimit: 0}, nil))
	assert.IsType(t, &ratelimit.MemoryLimiter{}, provideQueueLimiter(lc, &config.Config{QueueRateLimit: 3}, nil))
	assert.IsType(t, &ratelimit.RedisRateLimiter{}, provideQueueLimiter(lc, &config.Config{QueueRateLimit: 3}, newRedis(t)))

	lc.RequireStart()
	lc.RequireStop()
}
