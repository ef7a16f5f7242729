package convo

import "errors"

var (
	// ErrNotFound reports that no record exists at the expected path, or no
	// list entry matched. It is an outcome, not a failure; callers branch on
	// it.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound reports that the acting user has no registered account
	// node. Conversation creation requires one.
	ErrUserNotFound = errors.New("user not found")

	// ErrConversationNotFound reports that a conversation's message log is
	// absent.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidMessage reports a message that cannot be appended (missing id
	// or unknown kind).
	ErrInvalidMessage = errors.New("invalid message")
)
