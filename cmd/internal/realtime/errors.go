package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrMessageTooLong is returned for content above the server's rune limit.
	ErrMessageTooLong = errors.New("realtime: message too long")

	// ErrEmptyMessage is returned for blank content.
	ErrEmptyMessage = errors.New("realtime: empty message")

	// ErrSubprotocol is returned when the server does not select the protocol subprotocol.
	ErrSubprotocol = errors.New("realtime: subprotocol not negotiated")

	// ErrAckTimeout is returned when the server does not acknowledge a send in time.
	ErrAckTimeout = errors.New("realtime: ack timeout")
)

// ServerError is an error envelope returned by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("realtime: server error %s: %s", e.Code, e.Message)
}
