// Package waiter implements a condition-variable protocol built out of a
// shared lock, a counting semaphore and a secondary handshake semaphore.
// Unlike sync.Cond, which assumes a single process's scheduler, the protocol
// only requires primitives that survive independent process lifetimes: the
// shared records and semaphores may live in shared memory or behind a
// broker, as long as the Ctrl capability exposes them.
//
// Every operation reports success as a boolean. A false result is a normal
// outcome (timeout, closed condition, forced teardown), never a defect; the
// caller decides whether to give up or retry.
package waiter

import (
	"sync"
	"time"
)

// DefaultTimeout bounds waits that would otherwise risk blocking forever
// during teardown or a degenerate handshake race.
const DefaultTimeout = 100 * time.Millisecond

// Ctrl is the capability a condition object provides to the protocol.
// Implementations must be safe for concurrent use, potentially across
// processes.
//
// Timeout convention for the blocking operations: zero is a non-blocking
// attempt, negative waits forever.
type Ctrl interface {
	// Flags returns the shared flag set.
	Flags() *WaitFlags
	// Counter returns the shared waiter bookkeeping.
	Counter() *WaitCounter

	// GetLock acquires the shared lock and returns its release function.
	GetLock() (release func())

	// SemaWait blocks up to timeout on the primary semaphore and reports
	// whether a token was acquired.
	SemaWait(timeout time.Duration) bool
	// SemaPost releases n tokens on the primary semaphore.
	SemaPost(n int64) bool
	// HandshakeWait blocks up to timeout for a handshake acknowledgment.
	HandshakeWait(timeout time.Duration) bool
	// HandshakePost posts n handshake acknowledgments.
	HandshakePost(n int64) bool
}

// guard runs fn exactly once, either at the explicit exit call or at the
// deferred one, whichever comes first.
type guard struct {
	fn   func()
	done bool
}

func (g *guard) exit() {
	if g.done {
		return
	}
	g.done = true
	g.fn()
}

// WaitIf registers the caller as a waiter and blocks until signaled, until
// timeout elapses, or until the condition is closed or torn down.
//
// mtx is the caller-held lock protecting the predicate's state; it is
// released for the duration of the blocking wait and re-acquired before
// return, so the caller's locking invariant holds on both sides. pred is
// evaluated once, under the Ctrl lock: returning false means the condition
// is already satisfied and WaitIf returns true without blocking.
//
// The result is true only if a semaphore token was acquired and the
// handshake acknowledgment was delivered. Timeouts and forced teardown
// report false.
func WaitIf(c Ctrl, mtx sync.Locker, pred func() bool, timeout time.Duration) bool {
	flags := c.Flags()
	if flags.isClosed.Load() {
		return false
	}

	counter := c.Counter()
	counter.register()
	flags.isWaiting.Store(true)
	g := &guard{fn: func() {
		counter.unregister()
		flags.isWaiting.Store(false)
	}}
	defer g.exit()

	proceed := func() bool {
		release := c.GetLock()
		defer release()
		if !pred() {
			return false
		}
		// Tell notifiers how many acknowledgments this round involves.
		counter.counter = counter.waiting.Load()
		return true
	}()
	if !proceed {
		return true
	}

	mtx.Unlock()

	var ok bool
	for {
		if !flags.isWaiting.Load() || flags.isClosed.Load() {
			flags.needDest.Store(false)
			ok = false
			break
		}
		if flags.needDest.Swap(false) {
			// Teardown in progress: drain the token the teardown path
			// posted, bounded, and give up.
			ok = false
			c.SemaWait(DefaultTimeout)
			break
		}
		ok = c.SemaWait(timeout)
		if !flags.needDest.Load() {
			break
		}
		// A forced wake raced with this wait; go around once more to
		// drain it.
	}
	g.exit()
	ok = c.HandshakePost(1) && ok

	mtx.Lock()
	return ok
}

// clearHandshake drains acknowledgments left pending from a previous round,
// so they are not mistaken for the current round's. The Ctrl lock must be
// held.
func clearHandshake(c Ctrl) {
	for c.HandshakeWait(0) {
	}
}

// Notify wakes one waiter and awaits its acknowledgment, bounded by
// DefaultTimeout. With no registered waiters it returns true without taking
// the lock.
func Notify(c Ctrl) bool {
	counter := c.Counter()
	if counter.waiting.Load() == 0 {
		return true
	}
	release := c.GetLock()
	defer release()

	ok := true
	clearHandshake(c)
	if counter.counter > 0 {
		ok = c.SemaPost(1)
		counter.counter--
		ok = ok && c.HandshakeWait(DefaultTimeout)
	}
	return ok
}

// Broadcast wakes every currently registered waiter, dividing the
// DefaultTimeout acknowledgment budget evenly among them.
func Broadcast(c Ctrl) bool {
	counter := c.Counter()
	if counter.waiting.Load() == 0 {
		return true
	}
	release := c.GetLock()
	defer release()

	ok := true
	clearHandshake(c)
	if counter.counter > 0 {
		ok = c.SemaPost(counter.counter)
		tm := DefaultTimeout / time.Duration(counter.counter)
		for {
			counter.counter--
			ok = ok && c.HandshakeWait(tm)
			if counter.counter <= 0 {
				break
			}
		}
		// Every woken waiter has either acknowledged or is finishing its
		// own cleanup path.
		counter.waiting.Store(0)
	}
	return ok
}

// QuitWaiting force-releases every thread blocked in WaitIf. The owner calls
// it once during teardown, before destroying the underlying semaphores.
//
// Only a single acknowledgment is awaited even when several waiters are
// blocked: the point is to unblock the shutdown path promptly, not to
// guarantee that every waiter has fully exited. A waiter that consumed one
// of the forced tokens before observing the teardown flag may still report
// success; see TestQuitWaiting_ManyWaiters.
func QuitWaiting(c Ctrl) bool {
	flags := c.Flags()
	flags.needDest.Store(true)
	if !flags.isWaiting.Swap(false) {
		return true
	}
	counter := c.Counter()
	if counter.waiting.Load() == 0 {
		return true
	}
	release := c.GetLock()
	defer release()

	ok := true
	clearHandshake(c)
	if counter.counter > 0 {
		ok = c.SemaPost(counter.counter)
		counter.counter--
		ok = ok && c.HandshakeWait(DefaultTimeout)
	}
	return ok
}
