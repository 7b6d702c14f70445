package realtime

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// session is one established websocket connection.
//
// done is closed exactly once when the connection is torn down; goroutines and
// pending sends bound to this session select on it.
type session struct {
	id   string
	conn *websocket.Conn

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, cancel context.CancelFunc) *session {
	return &session{
		id:     id,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the session is shutting down.
func (s *session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// close tears the connection down (idempotent) and reports whether this call did it.
func (s *session) close(code websocket.StatusCode, reason string) bool {
	if s == nil {
		return false
	}
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		s.cancel()
		_ = s.conn.Close(code, reason)
	})
	return closed
}
