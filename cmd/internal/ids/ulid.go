// Package ids generates the ULIDs used as client message ids and envelope ids.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new 26-char ULID for now.
// IDs minted within the same millisecond are strictly increasing, so client
// message ids sort in send order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites that cannot surface an error.
// It falls back to a fresh entropy read when the monotonic source overflows.
func MustULID(now time.Time) string {
	if s, err := NewULID(now); err == nil {
		return s
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
