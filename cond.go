package procond

import (
	"sync"
	"time"

	"procond/internal/ctl"
	"procond/waiter"
)

// condCtl provides the waiter.Ctrl capability from in-process primitives:
// a one-slot lock and two token semaphores. When the broker hosts the
// condition, these are the authoritative shared primitives every process
// coordinates through.
type condCtl struct {
	flags   *waiter.WaitFlags
	counter waiter.WaitCounter
	lock    *ctl.Lock
	sema    *ctl.Semaphore
	hshake  *ctl.Semaphore
}

func newCondCtl() *condCtl {
	return &condCtl{
		flags:  waiter.NewWaitFlags(),
		lock:   ctl.NewLock(),
		sema:   ctl.NewSemaphore(),
		hshake: ctl.NewSemaphore(),
	}
}

func (c *condCtl) Flags() *waiter.WaitFlags {
	return c.flags
}

func (c *condCtl) Counter() *waiter.WaitCounter {
	return &c.counter
}

func (c *condCtl) GetLock() (release func()) {
	return c.lock.Acquire()
}

func (c *condCtl) SemaWait(timeout time.Duration) bool {
	return c.sema.Wait(timeout)
}

func (c *condCtl) SemaPost(n int64) bool {
	return c.sema.Post(n)
}

func (c *condCtl) HandshakeWait(timeout time.Duration) bool {
	return c.hshake.Wait(timeout)
}

func (c *condCtl) HandshakePost(n int64) bool {
	return c.hshake.Post(n)
}

var _ waiter.Ctrl = (*condCtl)(nil)

// cond is one hosted condition object: the Ctrl plus the external lock the
// wait protocol releases while blocked.
type cond struct {
	_ctl *condCtl
	_mu  sync.Mutex
}

func newCond() *cond {
	c := &cond{
		_ctl: newCondCtl(),
	}
	c._ctl.flags.Open()
	return c
}

// waitAlways is the predicate of a pure signaling wait: there is always
// something to wait for.
func waitAlways() bool {
	return true
}

func (c *cond) closed() bool {
	return c._ctl.flags.Closed()
}

// wait runs the wait protocol. pred is evaluated under the Ctrl lock; a
// false predicate means the condition is already satisfied and wait returns
// true without blocking.
func (c *cond) wait(pred func() bool, timeout time.Duration) bool {
	c._mu.Lock()
	defer c._mu.Unlock()
	return waiter.WaitIf(c._ctl, &c._mu, pred, timeout)
}

func (c *cond) notify() bool {
	return waiter.Notify(c._ctl)
}

func (c *cond) broadcast() bool {
	return waiter.Broadcast(c._ctl)
}

// close force-releases blocked waiters and marks the condition unusable.
// Safe to call repeatedly.
func (c *cond) close() bool {
	ok := waiter.QuitWaiting(c._ctl)
	c._ctl.flags.Close()
	return ok
}
