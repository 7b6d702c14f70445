package realtime

import (
	"time"

	"chatshell/cmd/internal/ids"
)

// newEnvelopeID returns a ULID used as envelope id; error envelopes refer back to it.
func newEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
