package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultBroadcastChannel = "duel:broadcast"

// Envelope 인스턴스 간 전달되는 브로드캐스트 메시지
type Envelope struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
}

// LocalPublisher 이 인스턴스에 연결된 클라이언트에게 전달하는 쪽 (websocket hub)
type LocalPublisher interface {
	Publish(topic, kind string, payload interface{})
}

// RedisBroadcaster Redis Pub/Sub 으로 모든 인스턴스의 로컬 hub 에 팬아웃.
// 모든 메시지가 하나의 채널을 지나므로 한 발행자의 순서는 유지된다.
type RedisBroadcaster struct {
	client     redis.UniversalClient
	local      LocalPublisher
	logger     *zap.Logger
	instanceID string
	channel    string

	publishTimeout time.Duration

	ready    chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewRedisBroadcaster(client redis.UniversalClient, local LocalPublisher, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:         client,
		local:          local,
		logger:         logger,
		instanceID:     uuid.New().String(),
		channel:        DefaultBroadcastChannel,
		publishTimeout: 2 * time.Second,
		ready:          make(chan struct{}),
		stopChan:       make(chan struct{}),
	}
}

// InstanceID 이 인스턴스 식별자
func (b *RedisBroadcaster) InstanceID() string {
	return b.instanceID
}

// Ready 구독이 확인되면 닫히는 채널
func (b *RedisBroadcaster) Ready() <-chan struct{} {
	return b.ready
}

// Publish 베스트 에포트 발행. 실패해도 호출자에게 에러를 돌려주지 않는다
func (b *RedisBroadcaster) Publish(topic, kind string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to marshal broadcast payload",
			zap.String("topic", topic), zap.String("type", kind), zap.Error(err))
		return
	}

	data, err := json.Marshal(Envelope{
		Topic:     topic,
		Type:      kind,
		Payload:   raw,
		Origin:    b.instanceID,
		Timestamp: time.Now(),
	})
	if err != nil {
		b.logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		// Redis 장애 시 최소한 이 인스턴스의 클라이언트에게는 전달
		b.logger.Warn("Redis publish failed, delivering locally only",
			zap.String("topic", topic), zap.String("type", kind), zap.Error(err))
		b.local.Publish(topic, kind, json.RawMessage(raw))
	}
}

// Start 구독 루프. Stop 이나 ctx 취소 전까지 블록된다
func (b *RedisBroadcaster) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	close(b.ready)

	b.logger.Info("Broadcaster subscribed",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)

		case <-b.stopChan:
			b.logger.Info("Broadcaster stopped")
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RedisBroadcaster) deliver(data string) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		b.logger.Error("Failed to unmarshal envelope", zap.Error(err))
		return
	}

	b.logger.Debug("Delivering broadcast",
		zap.String("topic", env.Topic),
		zap.String("type", env.Type),
		zap.String("origin", env.Origin))

	b.local.Publish(env.Topic, env.Type, env.Payload)
}

// Stop 구독 루프 종료
func (b *RedisBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
}
