package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewULID_SameMillisecondIsMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewULID(now)
		require.NoError(t, err)
		require.Len(t, id, 26)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNewULID_EncodesTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := NewULID(now)
	require.NoError(t, err)

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, ulid.Timestamp(now), parsed.Time())
}

func TestMustULID_ZeroTime(t *testing.T) {
	t.Parallel()

	require.Len(t, MustULID(time.Time{}), 26)
}
