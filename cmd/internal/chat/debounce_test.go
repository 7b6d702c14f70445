package chat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_RunsLastTriggerOnce(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls, last atomic.Int64
	for i := int64(1); i <= 5; i++ {
		i := i
		d.Trigger(func() {
			calls.Add(1)
			last.Store(i)
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(5), last.Load())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(20 * time.Millisecond)

	var calls atomic.Int64
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncer_NilSafe(t *testing.T) {
	t.Parallel()

	var d *Debouncer
	d.Trigger(func() {})
	d.Stop()
}
