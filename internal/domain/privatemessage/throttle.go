package privatemessage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/community/community-api/internal/pkg/metrics"
)

const (
	// ThrottleWindow bounds both the history the store returns and the "recent" checks below.
	ThrottleWindow = time.Hour

	targetUnreadLimit = 3
	replyForgiveness  = 3
	readDecay         = 2
	maxTargetUnread   = 7
	maxGeneralUnread  = 21
)

// PrivilegeChecker decides whether a user bypasses the throttle entirely
type PrivilegeChecker interface {
	HasElevatedPrivilege(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Evaluator decides whether a requester may send another private message to a target
// based on their recent message history.
type Evaluator struct {
	privileges PrivilegeChecker
	now        func() time.Time
	observe    func(outcome string)
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithClock overrides the time source
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDecisionObserver receives the outcome of every successful evaluation
func WithDecisionObserver(observe func(outcome string)) EvaluatorOption {
	return func(e *Evaluator) {
		e.observe = observe
	}
}

// NewEvaluator creates a throttle evaluator
func NewEvaluator(privileges PrivilegeChecker, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		privileges: privileges,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns true when requesterID may send to targetID.
// history must hold every message involving the requester inside ThrottleWindow, ordered by ascending ID.
// Elevated users are allowed without looking at history.
func (e *Evaluator) Evaluate(ctx context.Context, requesterID, targetID uuid.UUID, history []*Record) (bool, error) {
	if e.privileges != nil {
		elevated, err := e.privileges.HasElevatedPrivilege(ctx, requesterID)
		if err != nil {
			return false, fmt.Errorf("check privilege: %w", err)
		}
		if elevated {
			e.record(metrics.OutcomeBypass)
			return true, nil
		}
	}

	if err := validateHistory(requesterID, history); err != nil {
		return false, err
	}

	allowed := evaluateHistory(requesterID, targetID, history, e.now())
	if allowed {
		e.record(metrics.OutcomeAllowed)
	} else {
		e.record(metrics.OutcomeDenied)
	}
	return allowed, nil
}

func (e *Evaluator) record(outcome string) {
	if e.observe != nil {
		e.observe(outcome)
	}
}

func validateHistory(requesterID uuid.UUID, history []*Record) error {
	var prevID int64
	for i, r := range history {
		if r == nil || !r.Involves(requesterID) {
			return fmt.Errorf("%w: position %d", ErrForeignRecord, i)
		}
		if i > 0 && r.ID <= prevID {
			return fmt.Errorf("%w: id %d follows %d", ErrUnorderedHistory, r.ID, prevID)
		}
		prevID = r.ID
	}
	return nil
}

// evaluateHistory walks the history once, oldest first.
// Both counters may go negative; a reply or read message earns credit that absorbs later unread ones.
func evaluateHistory(requesterID, targetID uuid.UUID, history []*Record, now time.Time) bool {
	canSend := true
	generalUnread := 0
	targetUnread := 0

	for _, r := range history {
		recent := now.Sub(r.CreatedAt) < ThrottleWindow

		switch {
		case r.SenderID == requesterID && !r.IsRead:
			generalUnread++
			if r.RecipientID != targetID {
				continue
			}
			targetUnread++
			if targetUnread > targetUnreadLimit && recent {
				canSend = false
			}
		case r.SenderID == targetID:
			targetUnread -= replyForgiveness
			generalUnread -= replyForgiveness
			canSend = true
			if recent {
				return true
			}
		default:
			generalUnread -= readDecay
		}
	}

	if targetUnread > maxTargetUnread || generalUnread > maxGeneralUnread {
		return false
	}
	return canSend
}
