package privatemessage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/community/community-api/internal/middleware"
	"github.com/community/community-api/internal/pkg/errorhandler"
	"github.com/community/community-api/internal/pkg/response"
	"github.com/community/community-api/internal/pkg/validator"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	clientEventsPerSecond = 5
	clientEventBurst      = 10
)

// Handler handles private message HTTP requests
type Handler struct {
	service  *Service
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates private message handler
func NewHandler(service *Service, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Inbox handles GET /messages
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, offset := parsePagination(r, 20, 100)

	rows, err := h.service.Inbox(r.Context(), userID, limit, offset)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, "inbox", err)
		return
	}

	partners := make([]uuid.UUID, len(rows))
	for i, c := range rows {
		partners[i] = c.OtherUserID
	}
	var online map[uuid.UUID]bool
	if h.hub != nil {
		online = h.hub.OnlineUsers(r.Context(), partners)
	}

	items := make([]*InboxItemResponse, len(rows))
	for i, c := range rows {
		items[i] = InboxItemResponseFromEntity(c, online[c.OtherUserID])
	}

	response.WithMeta(w, items, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(items),
		HasNext: len(items) == limit,
	})
}

// Send handles POST /messages
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	req.Normalize()
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	msg, err := h.service.Send(r.Context(), userID, middleware.GetUsername(r.Context()), &req)
	if err != nil {
		h.writeError(w, r, "send message", err)
		return
	}

	response.Created(w, MessageResponseFromEntity(msg, userID))
}

// CanSend handles GET /messages/can-send/{userId}
func (h *Handler) CanSend(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	allowed, err := h.service.CanSend(r.Context(), middleware.GetUserID(r.Context()), targetID)
	if err != nil {
		h.writeError(w, r, "can send", err)
		return
	}

	response.OK(w, CanSendResponse{CanSend: allowed})
}

// Unread handles GET /messages/unread
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, _ := parsePagination(r, 10, 50)

	total, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, "unread count", err)
		return
	}
	rows, err := h.service.UnreadConversations(r.Context(), userID, limit)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, "unread conversations", err)
		return
	}

	response.OK(w, UnreadResponseFromEntities(total, rows))
}

// MarkAllRead handles POST /messages/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	senders, err := h.service.MarkAllRead(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, "mark all read", err)
		return
	}
	response.OK(w, map[string]int{"conversations": senders})
}

// Conversation handles GET /messages/conversations/{userId}
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	otherID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	limit, offset := parsePagination(r, 50, 100)

	msgs, err := h.service.Conversation(r.Context(), userID, otherID, limit, offset)
	if err != nil {
		h.writeError(w, r, "conversation", err)
		return
	}

	items := make([]*MessageResponse, len(msgs))
	for i, m := range msgs {
		items[i] = MessageResponseFromEntity(m, userID)
	}

	response.WithMeta(w, items, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(items),
		HasNext: len(items) == limit,
	})
}

// MarkConversationRead handles POST /messages/conversations/{userId}/read
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	otherID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	count, err := h.service.MarkConversationRead(r.Context(), middleware.GetUserID(r.Context()), otherID)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, "mark conversation read", err)
		return
	}
	response.OK(w, map[string]int64{"marked": count})
}

// GetMessage handles GET /messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseMessageID(w, r)
	if !ok {
		return
	}

	userID := middleware.GetUserID(r.Context())
	msg, err := h.service.GetMessage(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, r, "get message", err)
		return
	}

	response.OK(w, MessageResponseFromEntity(msg, userID))
}

// MarkRead handles POST /messages/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseMessageID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.writeError(w, r, "mark read", err)
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}

// WebSocket handles WS /ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}

	h.hub.Register(client)

	go h.wsReader(client)
	go h.wsWriter(client)
}

type clientEvent struct {
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"user_id"`
	MessageID int64     `json:"message_id"`
}

func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := rate.NewLimiter(clientEventsPerSecond, clientEventBurst)

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("WebSocket read error")
			}
			break
		}

		if !limiter.Allow() {
			continue
		}

		var event clientEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		h.handleClientEvent(context.Background(), client.UserID, &event)
	}
}

func (h *Handler) handleClientEvent(ctx context.Context, userID uuid.UUID, event *clientEvent) {
	switch EventType(event.Type) {
	case EventTyping:
		if event.UserID == uuid.Nil || event.UserID == userID {
			return
		}
		ok, err := h.service.HasConversation(ctx, userID, event.UserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("WebSocket typing lookup failed")
			return
		}
		if !ok {
			return
		}
		h.hub.SendToUser(event.UserID, &WSEvent{Type: EventTyping, UserID: userID})
	case EventRead:
		if event.MessageID == 0 {
			return
		}
		if err := h.service.MarkRead(ctx, userID, event.MessageID); err != nil && !errors.Is(err, ErrMessageNotFound) {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("WebSocket mark read failed")
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, "User not found")
	case errors.Is(err, ErrMessageNotFound):
		response.NotFound(w, "Message not found")
	case errors.Is(err, ErrCannotMessageSelf):
		response.BadRequest(w, "You cannot send messages to yourself")
	case errors.Is(err, ErrRecipientBanned):
		response.Forbidden(w, "Recipient is banned")
	case errors.Is(err, ErrMessageTooLong):
		response.ValidationError(w, map[string]string{
			"message": "Value is too long (max: " + strconv.Itoa(h.service.maxLength) + ")",
		})
	case errors.Is(err, ErrThrottled):
		response.TooManyRequests(w, "THROTTLED", "You have sent too many messages without a reply, please wait")
	case errors.Is(err, ErrTooManyMessages):
		response.TooManyRequests(w, "RATE_LIMIT_EXCEEDED", "Too many messages, please slow down")
	default:
		errorhandler.HandleInternal(r.Context(), w, operation, err)
	}
}

func parseMessageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "Invalid message ID")
		return 0, false
	}
	return id, true
}

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
