package waiter

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestWaitCounter_SaturatingDecrement(t *testing.T) {
	t.Parallel()

	var c WaitCounter
	c.register()
	c.register()
	assert.Equal(t, c.Waiting(), int64(2))

	c.unregister()
	c.unregister()
	assert.Equal(t, c.Waiting(), int64(0))

	// Decrementing an empty counter must not undershoot: Broadcast and
	// QuitWaiting may have reset it already.
	c.unregister()
	assert.Equal(t, c.Waiting(), int64(0))
}

func TestWaitFlags_Lifecycle(t *testing.T) {
	t.Parallel()

	f := NewWaitFlags()
	assert.Assert(t, f.Closed())

	f.Open()
	assert.Assert(t, !f.Closed())

	f.Close()
	assert.Assert(t, f.Closed())
}

func TestGuard_RunsExactlyOnce(t *testing.T) {
	t.Parallel()

	var runs int
	g := &guard{fn: func() { runs++ }}

	g.exit()
	g.exit()
	assert.Equal(t, runs, 1)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StateIdle.String(), "idle")
	assert.Equal(t, StateRegistered.String(), "registered")
	assert.Equal(t, StateBlocked.String(), "blocked")
	assert.Equal(t, StateClosing.String(), "closing")
	assert.Equal(t, State(42).String(), "unknown")
}
