package privatemessage

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SendMessageRequest for POST /messages. The recipient is addressed by id or by username.
type SendMessageRequest struct {
	RecipientID *uuid.UUID `json:"recipient_id,omitempty" validate:"required_without=Recipient"`
	Recipient   string     `json:"recipient,omitempty" validate:"omitempty,username"`
	Message     string     `json:"message" validate:"required,notblank"`
}

// Normalize trims surrounding whitespace from user input
func (r *SendMessageRequest) Normalize() {
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.Message = strings.TrimSpace(r.Message)
}

// MessageResponse represents message in API
type MessageResponse struct {
	ID                int64     `json:"id"`
	SenderID          uuid.UUID `json:"sender_id"`
	SenderUsername    string    `json:"sender_username"`
	RecipientID       uuid.UUID `json:"recipient_id"`
	RecipientUsername string    `json:"recipient_username"`
	Message           string    `json:"message"`
	IsRead            bool      `json:"is_read"`
	IsMine            bool      `json:"is_mine"`
	CreatedAt         string    `json:"created_at"`
}

// MessageResponseFromEntity converts entity to response
func MessageResponseFromEntity(m *Message, currentUserID uuid.UUID) *MessageResponse {
	return &MessageResponse{
		ID:                m.ID,
		SenderID:          m.SenderID,
		SenderUsername:    m.SenderUsername,
		RecipientID:       m.RecipientID,
		RecipientUsername: m.RecipientUsername,
		Message:           m.Body,
		IsRead:            m.IsRead,
		IsMine:            m.SenderID == currentUserID,
		CreatedAt:         m.CreatedAt.Format(time.RFC3339),
	}
}

// InboxItemResponse is one conversation in the inbox
type InboxItemResponse struct {
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username"`
	LastMessageID int64     `json:"last_message_id"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt string    `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	ReadCount     int       `json:"read_count"`
	IsOnline      bool      `json:"is_online"`
}

// InboxItemResponseFromEntity converts a conversation summary to response
func InboxItemResponseFromEntity(c *ConversationSummary, online bool) *InboxItemResponse {
	return &InboxItemResponse{
		UserID:        c.OtherUserID,
		Username:      c.OtherUsername,
		LastMessageID: c.LastMessageID,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt.Format(time.RFC3339),
		UnreadCount:   c.UnreadCount,
		ReadCount:     c.ReadCount,
		IsOnline:      online,
	}
}

// UnreadConversationResponse groups unread messages from one sender
type UnreadConversationResponse struct {
	MessageID    int64     `json:"message_id"`
	UserID       uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
	UnreadCount  int       `json:"unread_count"`
	LastUnreadAt string    `json:"last_unread_at"`
}

// UnreadResponse for GET /messages/unread
type UnreadResponse struct {
	Total         int                           `json:"total"`
	Conversations []*UnreadConversationResponse `json:"conversations"`
}

// UnreadResponseFromEntities builds the unread summary
func UnreadResponseFromEntities(total int, rows []*UnreadConversation) *UnreadResponse {
	items := make([]*UnreadConversationResponse, len(rows))
	for i, c := range rows {
		items[i] = &UnreadConversationResponse{
			MessageID:    c.MessageID,
			UserID:       c.SenderID,
			Username:     c.SenderUsername,
			UnreadCount:  c.UnreadCount,
			LastUnreadAt: c.LastUnreadAt.Format(time.RFC3339),
		}
	}
	return &UnreadResponse{Total: total, Conversations: items}
}

// CanSendResponse for GET /messages/can-send/{userId}
type CanSendResponse struct {
	CanSend bool `json:"can_send"`
}
