package privatemessage

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrCannotMessageSelf = errors.New("cannot send a message to yourself")
	ErrRecipientBanned   = errors.New("recipient is banned")
	ErrMessageNotFound   = errors.New("message not found")
	ErrMessageTooLong    = errors.New("message is too long")
	ErrThrottled         = errors.New("too many unanswered messages, wait for a reply")
	ErrTooManyMessages   = errors.New("sending too fast, slow down")

	ErrUnorderedHistory = errors.New("message history is not in ascending id order")
	ErrForeignRecord    = errors.New("message history contains a record not involving the requester")
)
