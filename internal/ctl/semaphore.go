package ctl

import (
	"container/list"
	"sync"
	"time"
)

type (
	// Semaphore is a counting token semaphore with timed waits.
	// Post hands tokens to blocked waiters in FIFO order and banks the
	// remainder for later Wait calls.
	Semaphore struct {
		_m       sync.Mutex
		_tokens  int64
		_waiters *list.List
	}
)

// NewSemaphore creates a Semaphore with no banked tokens.
func NewSemaphore() *Semaphore {
	return &Semaphore{
		_waiters: list.New(),
	}
}

// Post releases n tokens. It reports false only for a non-positive n.
func (s *Semaphore) Post(n int64) bool {
	if n <= 0 {
		return false
	}
	s._m.Lock()
	defer s._m.Unlock()

	for n > 0 {
		next := s._waiters.Front()
		if next == nil {
			break // No more waiters blocked.
		}
		s._waiters.Remove(next)
		// Hand the token over directly; closing the channel marks it
		// granted even if the waiter is timing out concurrently.
		close(next.Value.(chan struct{}))
		n--
	}
	s._tokens += n
	return true
}

// Wait acquires one token, blocking up to timeout. A zero timeout is a
// non-blocking attempt; a negative timeout blocks until a token arrives.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	s._m.Lock()
	if s._tokens > 0 {
		s._tokens--
		s._m.Unlock()
		return true
	}
	if timeout == 0 {
		s._m.Unlock()
		return false
	}

	ready := make(chan struct{})
	e := s._waiters.PushBack(ready)
	s._m.Unlock()

	if timeout < 0 {
		<-ready
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
		return true
	case <-t.C:
	}

	s._m.Lock()
	defer s._m.Unlock()
	select {
	case <-ready:
		// A token arrived while the timer fired; keep it.
		return true
	default:
	}
	s._waiters.Remove(e)
	return false
}

// Tokens reports the number of banked tokens.
func (s *Semaphore) Tokens() int64 {
	s._m.Lock()
	defer s._m.Unlock()
	return s._tokens
}
