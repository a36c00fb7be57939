package privatemessage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func waitEvent(t *testing.T, ch <-chan []byte) WSEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var event WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("unmarshal ws event: %v", err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting websocket event")
	}
	return WSEvent{}
}

func expectNoEvent(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected websocket event: %s", msg)
	default:
	}
}

func newLocalHubWithUsers(userIDs ...uuid.UUID) (*Hub, map[uuid.UUID]*Connection) {
	h := NewHub(nil, nil)
	conns := map[uuid.UUID]*Connection{}
	for _, userID := range userIDs {
		conn := &Connection{UserID: userID, Send: make(chan []byte, 8)}
		conns[userID] = conn
		h.connections[userID] = map[*Connection]bool{conn: true}
	}
	return h, conns
}

func TestHubSendToUserDeliversLocally(t *testing.T) {
	h, conns := newLocalHubWithUsers(alice, bob)

	h.SendToUser(bob, &WSEvent{Type: EventNewMessage, UserID: alice, MessageID: 7})

	event := waitEvent(t, conns[bob].Send)
	if event.Type != EventNewMessage || event.UserID != alice || event.MessageID != 7 {
		t.Fatalf("unexpected event: %+v", event)
	}
	expectNoEvent(t, conns[alice].Send)
}

func TestHubSendToUserPublishesForOtherInstances(t *testing.T) {
	h, _ := newLocalHubWithUsers()

	var published []byte
	h.publishFn = func(_ context.Context, channel string, payload []byte) error {
		if channel != userEventsChannel {
			t.Fatalf("unexpected channel %s", channel)
		}
		published = payload
		return nil
	}

	h.SendToUser(bob, &WSEvent{Type: EventRead, UserID: alice, Count: 2})

	var envelope userEventMessage
	if err := json.Unmarshal(published, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.UserID != bob.String() || envelope.SenderInstanceID != h.instanceID {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestHubHandleUserEventPayload(t *testing.T) {
	h, conns := newLocalHubWithUsers(bob)
	payload, _ := json.Marshal(&WSEvent{Type: EventNewMessage, UserID: alice})

	own, _ := json.Marshal(userEventMessage{UserID: bob.String(), Payload: payload, SenderInstanceID: h.instanceID})
	h.handleUserEventPayload(string(own))
	expectNoEvent(t, conns[bob].Send)

	remote, _ := json.Marshal(userEventMessage{UserID: bob.String(), Payload: payload, SenderInstanceID: "other"})
	h.handleUserEventPayload(string(remote))
	if event := waitEvent(t, conns[bob].Send); event.Type != EventNewMessage {
		t.Fatalf("expected %s, got %s", EventNewMessage, event.Type)
	}

	h.handleUserEventPayload("not json")
	expectNoEvent(t, conns[bob].Send)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(nil, nil)
	conn := &Connection{UserID: bob, Send: make(chan []byte, 1)}
	h.connections[bob] = map[*Connection]bool{conn: true}

	h.SendToUser(bob, &WSEvent{Type: EventTyping, UserID: alice})
	h.SendToUser(bob, &WSEvent{Type: EventTyping, UserID: alice})

	if len(conn.Send) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(conn.Send))
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	h := NewHub(nil, nil)
	go h.Run()
	defer h.Shutdown()

	conn := &Connection{UserID: alice, Send: make(chan []byte, 1)}
	h.Register(conn)

	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	online := h.OnlineUsers(context.Background(), []uuid.UUID{alice, bob})
	if !online[alice] || online[bob] {
		t.Fatalf("unexpected presence: %v", online)
	}

	h.Unregister(conn)
	for h.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-conn.Send; ok {
		t.Fatal("expected send channel to be closed")
	}
}

func TestHubRegisterAfterShutdownDoesNotBlock(t *testing.T) {
	h := NewHub(nil, nil)
	h.Shutdown()

	done := make(chan struct{})
	go func() {
		h.Register(&Connection{UserID: alice, Send: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("register blocked after shutdown")
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPresenceWithRedis(t *testing.T) {
	s, client := newTestRedis(t)
	h := NewHub(client, nil)
	go h.Run()
	defer h.Shutdown()
	ctx := context.Background()

	isOnline := func(id uuid.UUID) bool {
		ok, _ := s.IsMember(presenceKey, id.String())
		return ok
	}

	conn := &Connection{UserID: alice, Send: make(chan []byte, 1)}
	h.Register(conn)
	waitUntil(t, "alice in presence set", func() bool { return isOnline(alice) })
	if ttl := s.TTL(presenceKey); ttl <= 0 {
		t.Fatalf("expected presence set expiry, got %s", ttl)
	}

	// bob is connected to another instance
	s.SAdd(presenceKey, bob.String())

	online := h.OnlineUsers(ctx, []uuid.UUID{alice, bob, carol})
	if !online[alice] || !online[bob] || online[carol] {
		t.Fatalf("unexpected online set: %v", online)
	}

	h.Unregister(conn)
	waitUntil(t, "alice removed from presence set", func() bool { return !isOnline(alice) })

	online = h.OnlineUsers(ctx, []uuid.UUID{alice, bob})
	if online[alice] || !online[bob] {
		t.Fatalf("unexpected online set after disconnect: %v", online)
	}
}

func TestHubDeliversAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)

	sender := NewHubWithInstanceID(client, nil, "instance-a")
	go sender.Run()
	defer sender.Shutdown()

	receiver := NewHubWithInstanceID(client, nil, "instance-b")
	go receiver.Run()
	defer receiver.Shutdown()

	conn := &Connection{UserID: bob, Send: make(chan []byte, 4)}
	receiver.Register(conn)
	waitUntil(t, "bob registered", func() bool { return receiver.ConnectionCount() == 1 })

	sender.SendToUser(bob, &WSEvent{Type: EventNewMessage, UserID: alice, MessageID: 9})

	event := waitEvent(t, conn.Send)
	if event.Type != EventNewMessage || event.UserID != alice || event.MessageID != 9 {
		t.Fatalf("unexpected event: %+v", event)
	}
}
