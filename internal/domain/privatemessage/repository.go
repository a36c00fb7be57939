package privatemessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines private message data access interface
type Repository interface {
	Create(ctx context.Context, msg *Message) error

	// RecentHistory returns every message sent or received by userID after since, ordered by id ascending
	RecentHistory(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Record, error)

	GetReceived(ctx context.Context, id int64, recipientID uuid.UUID) (*Message, error)
	ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ConversationSummary, error)
	ListConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*Message, error)
	ListUnreadConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*UnreadConversation, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// HasExchanged reports whether either user has ever messaged the other
	HasExchanged(ctx context.Context, userID, otherID uuid.UUID) (bool, error)

	MarkRead(ctx context.Context, id int64, recipientID uuid.UUID) (bool, error)
	MarkConversationRead(ctx context.Context, recipientID, senderID uuid.UUID) (int64, error)
	// MarkAllRead returns the distinct senders whose messages changed state
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) ([]uuid.UUID, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new private message repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const messageSelect = `
	SELECT
		pm.id,
		pm.sender_id,
		COALESCE(s.username, '') AS sender_username,
		pm.recipient_id,
		COALESCE(t.username, '') AS recipient_username,
		pm.body,
		pm.is_read,
		pm.created_at
	FROM private_messages pm
	LEFT JOIN users s ON s.id = pm.sender_id
	LEFT JOIN users t ON t.id = pm.recipient_id
`

func (r *repository) Create(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO private_messages (sender_id, recipient_id, body, is_read)
		VALUES ($1, $2, $3, false)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, msg.SenderID, msg.RecipientID, msg.Body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("private message repository create: %w", err)
	}
	msg.IsRead = false
	return nil
}

func (r *repository) RecentHistory(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Record, error) {
	query := `
		SELECT id, sender_id, recipient_id, is_read, created_at
		FROM private_messages
		WHERE (sender_id = $1 OR recipient_id = $1)
		AND created_at > $2
		ORDER BY id ASC
	`
	var records []*Record
	if err := r.db.SelectContext(ctx, &records, query, userID, since); err != nil {
		return nil, fmt.Errorf("private message repository recent history: %w", err)
	}
	return records, nil
}

func (r *repository) GetReceived(ctx context.Context, id int64, recipientID uuid.UUID) (*Message, error) {
	query := messageSelect + `WHERE pm.id = $1 AND pm.recipient_id = $2`
	var msg Message
	err := r.db.GetContext(ctx, &msg, query, id, recipientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("private message repository get received: %w", err)
	}
	return &msg, nil
}

func (r *repository) ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ConversationSummary, error) {
	query := `
		SELECT
			z.other_user_id,
			COALESCE(u.username, '') AS other_username,
			z.last_message_id,
			pm.body AS last_message,
			z.last_message_at,
			z.unread_count,
			z.read_count
		FROM (
			SELECT
				CASE WHEN recipient_id = $1 THEN sender_id ELSE recipient_id END AS other_user_id,
				MAX(id) AS last_message_id,
				MAX(created_at) AS last_message_at,
				COUNT(*) FILTER (WHERE recipient_id = $1 AND NOT is_read) AS unread_count,
				COUNT(*) FILTER (WHERE recipient_id = $1 AND is_read) AS read_count
			FROM private_messages
			WHERE sender_id = $1 OR recipient_id = $1
			GROUP BY 1
		) z
		JOIN private_messages pm ON pm.id = z.last_message_id
		LEFT JOIN users u ON u.id = z.other_user_id
		ORDER BY z.unread_count DESC, z.last_message_at DESC
		LIMIT $2 OFFSET $3
	`
	var rows []*ConversationSummary
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("private message repository list inbox: %w", err)
	}
	return rows, nil
}

func (r *repository) ListConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := messageSelect + `
		WHERE (pm.sender_id = $1 AND pm.recipient_id = $2)
		OR (pm.sender_id = $2 AND pm.recipient_id = $1)
		ORDER BY pm.id DESC
		LIMIT $3 OFFSET $4
	`
	var msgs []*Message
	if err := r.db.SelectContext(ctx, &msgs, query, userID, otherID, limit, offset); err != nil {
		return nil, fmt.Errorf("private message repository list conversation: %w", err)
	}
	return msgs, nil
}

func (r *repository) ListUnreadConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*UnreadConversation, error) {
	query := `
		SELECT
			MAX(pm.id) AS message_id,
			pm.sender_id,
			COALESCE(u.username, '') AS sender_username,
			MAX(pm.created_at) AS last_unread_at,
			COUNT(*) AS unread_count
		FROM private_messages pm
		LEFT JOIN users u ON u.id = pm.sender_id
		WHERE pm.recipient_id = $1 AND NOT pm.is_read
		GROUP BY pm.sender_id, u.username
		ORDER BY last_unread_at DESC, unread_count DESC
		LIMIT $2
	`
	var rows []*UnreadConversation
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("private message repository list unread: %w", err)
	}
	return rows, nil
}

func (r *repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM private_messages WHERE recipient_id = $1 AND NOT is_read`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("private message repository count unread: %w", err)
	}
	return count, nil
}

func (r *repository) HasExchanged(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM private_messages
			WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, otherID); err != nil {
		return false, fmt.Errorf("private message repository has exchanged: %w", err)
	}
	return exists, nil
}

func (r *repository) MarkRead(ctx context.Context, id int64, recipientID uuid.UUID) (bool, error) {
	query := `UPDATE private_messages SET is_read = true WHERE id = $1 AND recipient_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("private message repository mark read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *repository) MarkConversationRead(ctx context.Context, recipientID, senderID uuid.UUID) (int64, error) {
	query := `
		UPDATE private_messages SET is_read = true
		WHERE recipient_id = $1 AND sender_id = $2 AND NOT is_read
	`
	result, err := r.db.ExecContext(ctx, query, recipientID, senderID)
	if err != nil {
		return 0, fmt.Errorf("private message repository mark conversation read: %w", err)
	}
	return result.RowsAffected()
}

func (r *repository) MarkAllRead(ctx context.Context, recipientID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		WITH updated AS (
			UPDATE private_messages SET is_read = true
			WHERE recipient_id = $1 AND NOT is_read
			RETURNING sender_id
		)
		SELECT DISTINCT sender_id FROM updated
	`
	var senders []uuid.UUID
	if err := r.db.SelectContext(ctx, &senders, query, recipientID); err != nil {
		return nil, fmt.Errorf("private message repository mark all read: %w", err)
	}
	return senders, nil
}
