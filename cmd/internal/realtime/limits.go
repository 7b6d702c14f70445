package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// Protocol limits shared with the server.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// The server closes connections that exceed this many events per window.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

// newSendLimiter throttles outgoing envelopes so a burst of sends waits instead
// of tripping the server's per-connection limit.
func newSendLimiter(events int, window time.Duration) *rate.Limiter {
	if events <= 0 {
		events = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(events)), events)
}
