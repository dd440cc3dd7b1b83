package ctl

type (
	// Lock is a one-slot channel lock with scoped acquisition.
	Lock struct {
		_lock chan struct{}
	}
)

// NewLock creates a Lock.
func NewLock() *Lock {
	return &Lock{
		_lock: make(chan struct{}, 1), // Allocate minimum buffer.
	}
}

// Acquire takes the lock and returns the function releasing it. The release
// function must be called exactly once.
func (l *Lock) Acquire() (release func()) {
	l._lock <- struct{}{}
	return func() {
		<-l._lock
	}
}

// TryAcquire takes the lock only if it is free. On success the returned
// release function is non-nil.
func (l *Lock) TryAcquire() (release func(), ok bool) {
	select {
	case l._lock <- struct{}{}:
		return func() {
			<-l._lock
		}, true
	default:
		return nil, false
	}
}
