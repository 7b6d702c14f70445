package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConversation is returned when an operation needs a cache that was never created.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrEmptyContent is returned when an optimistic send has nothing to send.
	ErrEmptyContent = errors.New("empty content")

	// ErrNoSender is returned by SendOptimistic when the store has no Sender configured.
	ErrNoSender = errors.New("no sender configured")

	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("invalid page")
)

// LoadError reports a failed history page fetch. Cache state is unchanged when it is returned.
type LoadError struct {
	ConversationID int64
	Page           int
	Err            error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load conversation %d page %d: %v", e.ConversationID, e.Page, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
