package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	broadcastBuffer  = 1024
	maxSubscriptions = 32
)

// Authorizer 토픽 구독 권한 확인 (MatchService.CanSubscribe)
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID, topic string) error
}

// Message 클라이언트로 나가는 메시지
type Message struct {
	Topic   string      `json:"topic,omitempty"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type subscription struct {
	client *Client
	topic  string
}

type directMessage struct {
	client  *Client
	message *Message
}

// Hub 토픽별 구독 관리 및 브로드캐스트. 상태 변경은 Run 고루틴 하나에서만 일어난다
type Hub struct {
	clients map[*Client]bool
	topics  map[string]map[*Client]bool
	mu      sync.RWMutex

	broadcast   chan *Message
	direct      chan directMessage
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription

	stop     chan struct{}
	stopOnce sync.Once

	authorizer Authorizer
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub allowedOrigins 가 비어 있으면 모든 origin 허용
func NewHub(authorizer Authorizer, allowedOrigins []string, logger *zap.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:     make(map[*Client]bool),
		topics:      make(map[string]map[*Client]bool),
		broadcast:   make(chan *Message, broadcastBuffer),
		direct:      make(chan directMessage, broadcastBuffer),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		stop:        make(chan struct{}),
		authorizer:  authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

// Run Hub 실행 (Stop 까지 블록)
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case sub := <-h.subscribe:
			h.addSubscription(sub)

		case sub := <-h.unsubscribe:
			h.removeSubscription(sub)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case dm := <-h.direct:
			h.mu.RLock()
			registered := h.clients[dm.client]
			h.mu.RUnlock()
			if registered {
				h.deliver(dm.client, dm.message)
			}

		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

// Stop 모든 연결을 닫고 Run 종료
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.logger.Debug("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

// dropLocked 구독을 모두 지우고 send 채널을 닫는다. h.mu 를 잡은 상태에서 호출
func (h *Hub) dropLocked(client *Client) {
	if _, exists := h.clients[client]; !exists {
		return
	}

	for topic := range client.topics {
		if subs := h.topics[topic]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.clients, client)
	close(client.send)

	h.logger.Debug("WebSocket client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) addSubscription(sub subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[sub.client] {
		return
	}
	if len(sub.client.topics) >= maxSubscriptions && !sub.client.topics[sub.topic] {
		h.deliver(sub.client, errorMessage(sub.topic, "too many subscriptions"))
		return
	}

	if h.topics[sub.topic] == nil {
		h.topics[sub.topic] = make(map[*Client]bool)
	}
	h.topics[sub.topic][sub.client] = true
	sub.client.topics[sub.topic] = true

	h.deliver(sub.client, &Message{Topic: sub.topic, Type: TypeSubscribed})
}

func (h *Hub) removeSubscription(sub subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[sub.client] {
		return
	}
	if subs := h.topics[sub.topic]; subs != nil {
		delete(subs, sub.client)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	delete(sub.client.topics, sub.topic)

	h.deliver(sub.client, &Message{Topic: sub.topic, Type: TypeUnsubscribed})
}

// broadcastMessage 토픽 구독자에게 전송. 버퍼가 가득 찬 클라이언트는 메시지를 버리고 연결을 끊는다
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.topics[message.Topic] {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full, disconnecting",
				zap.String("userId", client.userID),
				zap.String("topic", message.Topic))
			h.dropLocked(client)
		}
	}
}

// deliver 한 클라이언트에게 전송 (가득 차면 버림)
func (h *Hub) deliver(client *Client, message *Message) {
	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("userId", client.userID),
			zap.String("type", message.Type))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.dropLocked(client)
	}
}

// Publish 토픽으로 브로드캐스트. 블록하지 않으며 Hub 가 밀려 있으면 버린다
func (h *Hub) Publish(topic, kind string, payload interface{}) {
	select {
	case h.broadcast <- &Message{Topic: topic, Type: kind, Payload: payload}:
	default:
		h.logger.Warn("Hub broadcast buffer full, dropping message",
			zap.String("topic", topic),
			zap.String("type", kind))
	}
}

// sendTo 특정 클라이언트에게 (구독 응답/에러)
func (h *Hub) sendTo(client *Client, message *Message) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	case <-h.stop:
	}
}

// SubscriberCount 토픽 구독자 수
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ClientCount 연결된 클라이언트 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
