package privatemessage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/community/community-api/internal/pkg/metrics"
)

// EventType for WebSocket messages
type EventType string

const (
	EventNewMessage EventType = "new_message"
	EventRead       EventType = "read"
	EventTyping     EventType = "typing"
)

// Redis keys
const (
	presenceKey       = "pm:presence:online"
	userEventsChannel = "pm:user_events"
	presenceTTL       = 5 * time.Minute
)

type userEventMessage struct {
	UserID           string          `json:"user_id"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// WSEvent represents a WebSocket event
type WSEvent struct {
	Type      EventType        `json:"type"`
	UserID    uuid.UUID        `json:"user_id"`
	MessageID int64            `json:"message_id,omitempty"`
	Message   *MessageResponse `json:"message,omitempty"`
	Count     int64            `json:"count,omitempty"`
}

// Notifier pushes events to a user's live connections
type Notifier interface {
	SendToUser(userID uuid.UUID, event *WSEvent)
}

// Connection represents a WebSocket connection
type Connection struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub tracks live connections per user and fans events out across instances via Redis Pub/Sub
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	redis   *redis.Client
	pubsub  *redis.PubSub
	metrics *metrics.Metrics

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
	publishFn  func(ctx context.Context, channel string, payload []byte) error
}

// NewHub creates a new WebSocket hub
func NewHub(redisClient *redis.Client, m *metrics.Metrics) *Hub {
	return NewHubWithInstanceID(redisClient, m, uuid.NewString())
}

// NewHubWithInstanceID creates a hub with an explicit instance identifier
func NewHubWithInstanceID(redisClient *redis.Client, m *metrics.Metrics, instanceID string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		metrics:     m,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  instanceID,
	}

	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, userEventsChannel)
		h.publishFn = func(ctx context.Context, channel string, payload []byte) error {
			return redisClient.Publish(ctx, channel, payload).Err()
		}
	}

	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.UserID] == nil {
				h.connections[conn.UserID] = make(map[*Connection]bool)
			}
			h.connections[conn.UserID][conn] = true
			h.mu.Unlock()
			h.metrics.AddWSConnections(1)

			h.publishPresence(conn.UserID, true)
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User connected to WebSocket")

		case conn := <-h.unregister:
			offline := false
			h.mu.Lock()
			if conns, ok := h.connections[conn.UserID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
					h.metrics.AddWSConnections(-1)
				}
				if len(conns) == 0 {
					delete(h.connections, conn.UserID)
					offline = true
				}
			}
			h.mu.Unlock()

			if offline {
				h.publishPresence(conn.UserID, false)
			}
			log.Debug().Str("user_id", conn.UserID.String()).Msg("User disconnected from WebSocket")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleUserEventPayload(msg.Payload)
		}
	}
}

func (h *Hub) handleUserEventPayload(payload string) {
	var event userEventMessage
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return
	}
	if event.SenderInstanceID == h.instanceID {
		return
	}
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return
	}
	h.sendLocal(userID, event.Payload)
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.ctx.Done():
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// SendToUser delivers event to every connection of userID on any instance
func (h *Hub) SendToUser(userID uuid.UUID, event *WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal WebSocket event")
		return
	}

	h.sendLocal(userID, data)
	if err := h.publishUserEvent(userID, data); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Redis publish failed")
	}
}

func (h *Hub) sendLocal(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections[userID] {
		select {
		case conn.Send <- data:
			h.metrics.IncWSEventSent()
		default:
			h.metrics.IncWSEventDropped()
			log.Warn().Str("user_id", userID.String()).Msg("WebSocket send buffer full")
		}
	}
}

func (h *Hub) publishUserEvent(userID uuid.UUID, data []byte) error {
	if h.publishFn == nil {
		return nil
	}

	payload, err := json.Marshal(userEventMessage{
		UserID:           userID.String(),
		Payload:          data,
		SenderInstanceID: h.instanceID,
	})
	if err != nil {
		return err
	}
	return h.publishFn(h.ctx, userEventsChannel, payload)
}

func (h *Hub) publishPresence(userID uuid.UUID, online bool) {
	if h.redis == nil {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()

	var err error
	if online {
		err = h.redis.SAdd(ctx, presenceKey, userID.String()).Err()
		if err == nil {
			err = h.redis.Expire(ctx, presenceKey, presenceTTL).Err()
		}
	} else {
		err = h.redis.SRem(ctx, presenceKey, userID.String()).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Bool("online", online).Msg("Presence update failed")
	}
}

// OnlineUsers returns the subset of userIDs with a live connection on any instance
func (h *Hub) OnlineUsers(ctx context.Context, userIDs []uuid.UUID) map[uuid.UUID]bool {
	online := make(map[uuid.UUID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online
	}

	if h.redis != nil {
		members, err := h.redis.SMembers(ctx, presenceKey).Result()
		if err == nil {
			set := make(map[string]bool, len(members))
			for _, m := range members {
				set[m] = true
			}
			for _, id := range userIDs {
				if set[id.String()] {
					online[id] = true
				}
			}
			return online
		}
		log.Warn().Err(err).Msg("Presence lookup failed, using local connections")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		if len(h.connections[id]) > 0 {
			online[id] = true
		}
	}
	return online
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
