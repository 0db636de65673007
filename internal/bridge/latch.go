package bridge

import "sync"

// InitLatch runs provider initialization at most once successfully per
// process. One latch is shared by every Dispatcher bound to the same
// provider. Concurrent callers wait for the in-flight attempt and share its
// outcome; a failed attempt leaves the latch open for a retry.
type InitLatch struct {
	mu       sync.Mutex
	done     bool
	inflight chan struct{}
	lastErr  error
}

// NewInitLatch returns an open latch.
func NewInitLatch() *InitLatch { return &InitLatch{} }

// Do runs fn unless initialization already succeeded. ran reports whether
// this call executed fn.
func (l *InitLatch) Do(fn func() error) (ran bool, err error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return false, nil
	}
	if ch := l.inflight; ch != nil {
		l.mu.Unlock()
		<-ch
		l.mu.Lock()
		defer l.mu.Unlock()
		return false, l.lastErr
	}
	ch := make(chan struct{})
	l.inflight = ch
	l.mu.Unlock()

	err = fn()

	l.mu.Lock()
	l.inflight = nil
	l.lastErr = err
	if err == nil {
		l.done = true
	}
	l.mu.Unlock()
	close(ch)
	return true, err
}

// Done reports whether initialization has succeeded.
func (l *InitLatch) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
