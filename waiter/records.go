package waiter

import (
	"sync/atomic"
)

type (
	// WaitCounter is the shared waiter bookkeeping of a condition object.
	// It is owned by the surrounding condition object and outlives any
	// individual waiter or notifier.
	WaitCounter struct {
		// waiting is the number of threads currently registered as a
		// waiter. Incremented on entry to WaitIf and decremented on every
		// exit path; it never goes below zero.
		waiting atomic.Int64

		// counter is a snapshot of waiting, taken under the Ctrl lock by a
		// waiter at the moment it decides to block. Notify, Broadcast and
		// QuitWaiting consume it to know how many handshake acknowledgments
		// to expect. Meaningful only while the Ctrl lock is held; stale
		// outside of it.
		counter int64
	}

	// WaitFlags is the shared flag set of a condition object.
	// Writer discipline per field:
	//   - isWaiting: set by WaitIf on entry, cleared by WaitIf on exit and
	//     test-and-cleared by QuitWaiting.
	//   - isClosed: written by the owner only (Open/Close).
	//   - needDest: set by QuitWaiting, taken or cleared by WaitIf.
	WaitFlags struct {
		isWaiting atomic.Bool
		isClosed  atomic.Bool
		needDest  atomic.Bool
	}
)

// NewWaitFlags returns flags for a condition object that is not opened yet.
// A condition starts closed; the owner calls Open once the surrounding
// machinery is ready to serve waiters.
func NewWaitFlags() *WaitFlags {
	f := &WaitFlags{}
	f.isClosed.Store(true)
	return f
}

// Open admits waiters into the blocking region.
func (f *WaitFlags) Open() {
	f.isClosed.Store(false)
}

// Close rejects new waiters. Threads already inside the blocking region
// still exit cleanly; use QuitWaiting to force them out.
func (f *WaitFlags) Close() {
	f.isClosed.Store(true)
}

// Closed reports whether the condition object is usable.
func (f *WaitFlags) Closed() bool {
	return f.isClosed.Load()
}

// Waiting reports the number of currently registered waiters.
func (c *WaitCounter) Waiting() int64 {
	return c.waiting.Load()
}

// register records one more waiter.
func (c *WaitCounter) register() {
	c.waiting.Add(1)
}

// unregister decrements the waiter count, saturating at zero.
// QuitWaiting and Broadcast may reset waiting concurrently, so a plain
// decrement could undershoot; retry the CAS against the current value
// instead.
func (c *WaitCounter) unregister() {
	for curr := c.waiting.Load(); curr > 0; curr = c.waiting.Load() {
		if c.waiting.CompareAndSwap(curr, curr-1) {
			break
		}
	}
}

// State is the coarse protocol state derived from the shared records.
type State int

const (
	// StateIdle: no registered waiters.
	StateIdle State = iota
	// StateRegistered: a waiter is registered but not blocked yet.
	StateRegistered
	// StateBlocked: at least one waiter is inside the blocking region.
	StateBlocked
	// StateClosing: the condition is closed or a teardown is in progress.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistered:
		return "registered"
	case StateBlocked:
		return "blocked"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StateOf derives the observable state of a condition object. The legal
// transitions are Idle -> Registered -> Blocked -> Registered -> Idle, with
// Closing reachable from any of them.
func StateOf(c Ctrl) State {
	flags := c.Flags()
	if flags.isClosed.Load() || flags.needDest.Load() {
		return StateClosing
	}
	if c.Counter().Waiting() == 0 {
		return StateIdle
	}
	if flags.isWaiting.Load() {
		return StateBlocked
	}
	return StateRegistered
}
