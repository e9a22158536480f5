package distributed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type delivered struct {
	topic   string
	kind    string
	payload string
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []delivered
}

func (p *recordingPublisher) Publish(topic, kind string, payload interface{}) {
	raw, _ := json.Marshal(payload)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, delivered{topic: topic, kind: kind, payload: string(raw)})
}

func (p *recordingPublisher) snapshot() []delivered {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]delivered(nil), p.got...)
}

func startBroadcaster(t *testing.T, b *RedisBroadcaster) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Start(ctx)
	}()
	t.Cleanup(func() {
		b.Stop()
		cancel()
		<-done
	})

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster did not subscribe")
	}
}

func TestRedisBroadcaster_FansOutToEveryInstance(t *testing.T) {
	_, client := setupMiniRedis(t)

	localA := &recordingPublisher{}
	localB := &recordingPublisher{}
	a := NewRedisBroadcaster(client, localA, zap.NewNop())
	b := NewRedisBroadcaster(client, localB, zap.NewNop())
	startBroadcaster(t, a)
	startBroadcaster(t, b)

	a.Publish("battle:m1", "state_change", map[string]string{"state": "live"})

	for _, local := range []*recordingPublisher{localA, localB} {
		local := local
		require.Eventually(t, func() bool { return len(local.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

		got := local.snapshot()[0]
		assert.Equal(t, "battle:m1", got.topic)
		assert.Equal(t, "state_change", got.kind)
		assert.JSONEq(t, `{"state":"live"}`, got.payload)
	}
}

func TestRedisBroadcaster_PreservesPublisherOrder(t *testing.T) {
	_, client := setupMiniRedis(t)

	local := &recordingPublisher{}
	b := NewRedisBroadcaster(client, local, zap.NewNop())
	startBroadcaster(t, b)

	kinds := []string{"submission", "verdict", "scoreboard_update", "state_change"}
	for _, k := range kinds {
		b.Publish("battle:m1", k, struct{}{})
	}

	require.Eventually(t, func() bool { return len(local.snapshot()) == len(kinds) }, 2*time.Second, 10*time.Millisecond)

	for i, d := range local.snapshot() {
		assert.Equal(t, kinds[i], d.kind)
	}
}

func TestRedisBroadcaster_FallsBackToLocalWhenRedisDown(t *testing.T) {
	mr, client := setupMiniRedis(t)

	local := &recordingPublisher{}
	b := NewRedisBroadcaster(client, local, zap.NewNop())
	b.publishTimeout = 200 * time.Millisecond

	mr.Close()
	b.Publish("queue:ranked", "queue_size", map[string]int{"waiting": 2})

	got := local.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "queue:ranked", got[0].topic)
	assert.JSONEq(t, `{"waiting":2}`, got[0].payload)
}
