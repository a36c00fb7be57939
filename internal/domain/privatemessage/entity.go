package privatemessage

import (
	"time"

	"github.com/google/uuid"
)

// Record is the throttle's view of a stored message: who sent it to whom, when, and whether it was read.
// ID is the store's ascending primary key and defines chronological order.
type Record struct {
	ID          int64     `db:"id"`
	SenderID    uuid.UUID `db:"sender_id"`
	RecipientID uuid.UUID `db:"recipient_id"`
	IsRead      bool      `db:"is_read"`
	CreatedAt   time.Time `db:"created_at"`
}

// Involves reports whether userID sent or received the record
func (r *Record) Involves(userID uuid.UUID) bool {
	return r.SenderID == userID || r.RecipientID == userID
}

// Message represents a stored private message
type Message struct {
	ID                int64     `db:"id"`
	SenderID          uuid.UUID `db:"sender_id"`
	SenderUsername    string    `db:"sender_username"`
	RecipientID       uuid.UUID `db:"recipient_id"`
	RecipientUsername string    `db:"recipient_username"`
	Body              string    `db:"body"`
	IsRead            bool      `db:"is_read"`
	CreatedAt         time.Time `db:"created_at"`
}

// Record returns the throttle projection of the message
func (m *Message) Record() *Record {
	return &Record{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
}

// ConversationSummary is one inbox row: the latest message exchanged with another user
// plus read/unread counts of the messages received from them.
type ConversationSummary struct {
	OtherUserID   uuid.UUID `db:"other_user_id"`
	OtherUsername string    `db:"other_username"`
	LastMessageID int64     `db:"last_message_id"`
	LastMessage   string    `db:"last_message"`
	LastMessageAt time.Time `db:"last_message_at"`
	UnreadCount   int       `db:"unread_count"`
	ReadCount     int       `db:"read_count"`
}

// UnreadConversation groups unread messages received from one sender
type UnreadConversation struct {
	MessageID      int64     `db:"message_id"`
	SenderID       uuid.UUID `db:"sender_id"`
	SenderUsername string    `db:"sender_username"`
	LastUnreadAt   time.Time `db:"last_unread_at"`
	UnreadCount    int       `db:"unread_count"`
}
