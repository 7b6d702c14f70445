package chat

import (
	"context"
	"time"
)

// Fetcher retrieves one page of conversation history.
//
// Page 1 is the newest window; higher pages are progressively older. Items are
// returned in ascending CreatedAt order.
type Fetcher interface {
	FetchPage(ctx context.Context, conversationID int64, page, pageSize int) ([]Message, error)
}

// Sender delivers a locally composed message and returns the server confirmation.
type Sender interface {
	Send(ctx context.Context, conversationID int64, clientMsgID string, kind Kind, content string) (Ack, error)
}

// Presenter receives the store's view signals.
//
// Signals are issued after the store has released its lock, on the goroutine
// that performed the operation. Implementations must not block for long.
type Presenter interface {
	// ScrollToBottom asks the view to pin the active conversation to its newest message.
	ScrollToBottom(conversationID int64)
	// PreserveOffset asks the view to shift its scroll offset by delta after the next layout,
	// so that content above the fold does not jump.
	PreserveOffset(conversationID int64, delta int)
	// RestoreOffset asks the view to restore a previously recorded offset after layout.
	RestoreOffset(conversationID int64, offset int)
	// MeasureHeight reports the rendered height of msgs.
	MeasureHeight(msgs []Message) int
	// LoadFailed reports a transient history fetch failure.
	LoadFailed(conversationID int64, page int, err error)
	// MessagesChanged reports that the conversation's message list was mutated.
	MessagesChanged(conversationID int64)
}

// NopPresenter ignores all signals. Embed it to implement a subset of Presenter.
type NopPresenter struct{}

func (NopPresenter) ScrollToBottom(int64)         {}
func (NopPresenter) PreserveOffset(int64, int)    {}
func (NopPresenter) RestoreOffset(int64, int)     {}
func (NopPresenter) MeasureHeight([]Message) int  { return 0 }
func (NopPresenter) LoadFailed(int64, int, error) {}
func (NopPresenter) MessagesChanged(int64)        {}

// Metrics observes store activity. metrics.Chat implements it.
type Metrics interface {
	PageFetched(result string, d time.Duration)
	LiveMerged(outcome string)
	EchoResolved(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) PageFetched(string, time.Duration) {}
func (nopMetrics) LiveMerged(string)                 {}
func (nopMetrics) EchoResolved(string)               {}
