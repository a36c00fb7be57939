package privatemessage

import (
	"context"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/community/community-api/internal/domain/user"
	"github.com/community/community-api/internal/pkg/logger"
	"github.com/community/community-api/internal/pkg/metrics"
)

// BurstGuard limits raw send frequency per user
type BurstGuard interface {
	Allow(ctx context.Context, userID uuid.UUID) bool
}

// Service handles private message business logic
type Service struct {
	repo      Repository
	userRepo  user.Repository
	evaluator *Evaluator
	limiter   BurstGuard
	notifier  Notifier
	metrics   *metrics.Metrics
	maxLength int
}

// NewService creates private message service
func NewService(repo Repository, userRepo user.Repository, evaluator *Evaluator, limiter BurstGuard, notifier Notifier, m *metrics.Metrics, maxLength int) *Service {
	return &Service{
		repo:      repo,
		userRepo:  userRepo,
		evaluator: evaluator,
		limiter:   limiter,
		notifier:  notifier,
		metrics:   m,
		maxLength: maxLength,
	}
}

// CanSend reports whether senderID may message targetID right now
func (s *Service) CanSend(ctx context.Context, senderID, targetID uuid.UUID) (bool, error) {
	if senderID == targetID {
		return false, ErrCannotMessageSelf
	}

	since := s.evaluator.now().Add(-ThrottleWindow)
	history, err := s.repo.RecentHistory(ctx, senderID, since)
	if err != nil {
		return false, err
	}
	return s.evaluator.Evaluate(ctx, senderID, targetID, history)
}

// Send validates, throttles and stores a new message, then pushes it to the recipient
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, senderUsername string, req *SendMessageRequest) (*Message, error) {
	req.Normalize()
	if s.maxLength > 0 && utf8.RuneCountInString(req.Message) > s.maxLength {
		return nil, ErrMessageTooLong
	}

	recipient, err := s.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}
	if recipient.ID == senderID {
		return nil, ErrCannotMessageSelf
	}
	if !recipient.IsActive() {
		return nil, ErrRecipientBanned
	}

	if s.limiter != nil && !s.limiter.Allow(ctx, senderID) {
		return nil, ErrTooManyMessages
	}

	allowed, err := s.CanSend(ctx, senderID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		logger.LogInfo(ctx, "Private message throttled",
			"sender_id", senderID.String(),
			"recipient_id", recipient.ID.String(),
		)
		return nil, ErrThrottled
	}

	msg := &Message{
		SenderID:          senderID,
		SenderUsername:    senderUsername,
		RecipientID:       recipient.ID,
		RecipientUsername: recipient.Username,
		Body:              req.Message,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	s.metrics.IncMessagesSent()

	s.notify(recipient.ID, &WSEvent{
		Type:      EventNewMessage,
		UserID:    senderID,
		MessageID: msg.ID,
		Message:   MessageResponseFromEntity(msg, recipient.ID),
	})

	return msg, nil
}

func (s *Service) resolveRecipient(ctx context.Context, req *SendMessageRequest) (*user.User, error) {
	var (
		recipient *user.User
		err       error
	)
	if req.RecipientID != nil {
		recipient, err = s.userRepo.GetByID(ctx, *req.RecipientID)
	} else {
		recipient, err = s.userRepo.GetByUsername(ctx, req.Recipient)
	}
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, ErrUserNotFound
	}
	return recipient, nil
}

// GetMessage opens a received message, marking it read
func (s *Service) GetMessage(ctx context.Context, userID uuid.UUID, messageID int64) (*Message, error) {
	msg, err := s.repo.GetReceived(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}

	if !msg.IsRead {
		if _, err := s.repo.MarkRead(ctx, messageID, userID); err != nil {
			return nil, err
		}
		msg.IsRead = true
		s.notifyRead(msg.SenderID, userID, messageID, 1)
	}
	return msg, nil
}

// MarkRead marks a single received message as read
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, messageID int64) error {
	msg, err := s.repo.GetReceived(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.IsRead {
		return nil
	}

	updated, err := s.repo.MarkRead(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if updated {
		s.notifyRead(msg.SenderID, userID, messageID, 1)
	}
	return nil
}

// MarkConversationRead marks every message received from fromUserID as read
func (s *Service) MarkConversationRead(ctx context.Context, userID, fromUserID uuid.UUID) (int64, error) {
	count, err := s.repo.MarkConversationRead(ctx, userID, fromUserID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.notifyRead(fromUserID, userID, 0, count)
	}
	return count, nil
}

// MarkAllRead marks every received message as read
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	senders, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, senderID := range senders {
		s.notifyRead(senderID, userID, 0, 0)
	}
	return len(senders), nil
}

// Inbox returns one summary per conversation partner, unread first
func (s *Service) Inbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ConversationSummary, error) {
	return s.repo.ListInbox(ctx, userID, limit, offset)
}

// Conversation returns messages exchanged with otherID, newest first.
// Messages received from otherID are marked read before listing.
func (s *Service) Conversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*Message, error) {
	if userID == otherID {
		return nil, ErrCannotMessageSelf
	}
	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	if _, err := s.MarkConversationRead(ctx, userID, otherID); err != nil {
		return nil, err
	}
	return s.repo.ListConversation(ctx, userID, otherID, limit, offset)
}

// UnreadConversations returns senders with unread messages, most recent first
func (s *Service) UnreadConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*UnreadConversation, error) {
	return s.repo.ListUnreadConversations(ctx, userID, limit)
}

// HasConversation reports whether the two users have exchanged at least one message
func (s *Service) HasConversation(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	if userID == otherID {
		return false, nil
	}
	return s.repo.HasExchanged(ctx, userID, otherID)
}

// UnreadCount returns total unread messages for user
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) notifyRead(senderID, readerID uuid.UUID, messageID, count int64) {
	s.notify(senderID, &WSEvent{
		Type:      EventRead,
		UserID:    readerID,
		MessageID: messageID,
		Count:     count,
	})
}

func (s *Service) notify(userID uuid.UUID, event *WSEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.SendToUser(userID, event)
}
