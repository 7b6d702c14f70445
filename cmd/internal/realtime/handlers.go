package realtime

import (
	"sync"

	"chatshell/cmd/internal/chat"
)

// MessageHandler receives live messages routed by conversation id.
// Handlers run on the read loop and must not wait on Client.Send.
type MessageHandler func(conversationID int64, msg chat.Message)

// ErrorHandler receives server error envelopes that are not tied to a pending send.
type ErrorHandler func(err error)

// handlers is the subscriber registry. Subscriptions outlive reconnects.
//
// Fanout copies the subscriber list under the lock and calls handlers outside it,
// so a handler may unsubscribe itself.
type handlers struct {
	mu     sync.RWMutex
	nextID int
	msg    map[int]MessageHandler
	errs   map[int]ErrorHandler
}

func newHandlers() *handlers {
	return &handlers{
		msg:  make(map[int]MessageHandler),
		errs: make(map[int]ErrorHandler),
	}
}

func (h *handlers) addMessage(fn MessageHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.msg[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.msg, id)
			h.mu.Unlock()
		})
	}
}

func (h *handlers) addError(fn ErrorHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.errs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.errs, id)
			h.mu.Unlock()
		})
	}
}

func (h *handlers) publishMessage(conversationID int64, msg chat.Message) {
	h.mu.RLock()
	subs := make([]MessageHandler, 0, len(h.msg))
	for _, fn := range h.msg {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(conversationID, msg)
	}
}

func (h *handlers) publishError(err error) {
	h.mu.RLock()
	subs := make([]ErrorHandler, 0, len(h.errs))
	for _, fn := range h.errs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(err)
	}
}
