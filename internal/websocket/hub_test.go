package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type denyAuthorizer struct {
	denied map[string]bool
}

func (a denyAuthorizer) CanSubscribe(_ context.Context, _ string, topic string) error {
	if a.denied[topic] {
		return errors.New("not a participant of this match")
	}
	return nil
}

func startHub(t *testing.T, authorizer Authorizer) *Hub {
	t.Helper()
	hub := NewHub(authorizer, nil, zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestClient(h *Hub, userID string, buffer int) *Client {
	return &Client{
		hub:    h,
		send:   make(chan *Message, buffer),
		userID: userID,
		topics: make(map[string]bool),
		logger: h.logger,
	}
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishReachesOnlySubscribers(t *testing.T) {
	hub := startHub(t, nil)
	alice := newTestClient(hub, "alice", 8)
	bob := newTestClient(hub, "bob", 8)
	hub.register <- alice
	hub.register <- bob

	hub.subscribe <- subscription{client: alice, topic: "queue:ranked"}
	hub.subscribe <- subscription{client: bob, topic: "battle:m1"}
	assert.Equal(t, TypeSubscribed, receive(t, alice).Type)
	assert.Equal(t, TypeSubscribed, receive(t, bob).Type)
	assert.Equal(t, 1, hub.SubscriberCount("queue:ranked"))

	hub.Publish("queue:ranked", "queue_size", map[string]int{"waiting": 3})

	msg := receive(t, alice)
	assert.Equal(t, "queue:ranked", msg.Topic)
	assert.Equal(t, "queue_size", msg.Type)
	assertNothing(t, bob)
}

func TestHub_PreservesOrderPerTopic(t *testing.T) {
	hub := startHub(t, nil)
	c := newTestClient(hub, "alice", 64)
	hub.register <- c
	hub.subscribe <- subscription{client: c, topic: "battle:m1"}
	receive(t, c)

	for i := 0; i < 20; i++ {
		hub.Publish("battle:m1", "verdict", i)
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, i, receive(t, c).Payload)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := startHub(t, nil)
	c := newTestClient(hub, "alice", 8)
	hub.register <- c

	hub.subscribe <- subscription{client: c, topic: "battle:m1"}
	receive(t, c)
	hub.unsubscribe <- subscription{client: c, topic: "battle:m1"}
	assert.Equal(t, TypeUnsubscribed, receive(t, c).Type)
	assert.Equal(t, 0, hub.SubscriberCount("battle:m1"))

	hub.Publish("battle:m1", "verdict", nil)
	assertNothing(t, c)
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	hub := startHub(t, nil)
	slow := newTestClient(hub, "slow", 2)
	hub.register <- slow
	hub.subscribe <- subscription{client: slow, topic: "battle:m1"}

	hub.Publish("battle:m1", "verdict", 1)
	hub.Publish("battle:m1", "verdict", 2)

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount("battle:m1"))

	assert.Equal(t, TypeSubscribed, (<-slow.send).Type)
	assert.Equal(t, 1, (<-slow.send).Payload)
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	c := newTestClient(hub, "alice", 8)
	hub.register <- c

	hub.Stop()
	hub.Stop()
	<-done

	_, ok := <-c.send
	assert.False(t, ok)
	hub.Publish("battle:m1", "verdict", nil)
}

func TestServeWs_SubscribeFlow(t *testing.T) {
	hub := startHub(t, denyAuthorizer{denied: map[string]bool{"battle:secret": true}})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("user"))
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(Frame{Action: ActionSubscribe, Topic: "battle:secret"}))
	denied := read()
	assert.Equal(t, TypeError, denied.Type)
	assert.Equal(t, "battle:secret", denied.Topic)

	require.NoError(t, conn.WriteJSON(Frame{Action: "shout", Topic: "queue:ranked"}))
	assert.Equal(t, TypeError, read().Type)

	require.NoError(t, conn.WriteJSON(Frame{Action: ActionSubscribe, Topic: "queue:ranked"}))
	assert.Equal(t, TypeSubscribed, read().Type)

	hub.Publish("queue:ranked", "queue_size", map[string]int{"waiting": 2})
	msg := read()
	assert.Equal(t, "queue_size", msg.Type)
	assert.Equal(t, map[string]interface{}{"waiting": float64(2)}, msg.Payload)
}
