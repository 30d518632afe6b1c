package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"partnercore/pkg/domain"
)

// DefaultLockTimeout bounds how long a mutation waits for its document.
const DefaultLockTimeout = 5 * time.Second

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Locker serializes mutations per document identity. Entries are dropped
// once nobody holds or waits for them.
type Locker struct {
	mu      sync.Mutex
	entries map[domain.Ref]*lockEntry
	timeout time.Duration
}

// NewLocker returns a locker whose Acquire gives up after timeout.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Locker{entries: make(map[domain.Ref]*lockEntry), timeout: timeout}
}

func (l *Locker) entry(ref domain.Ref) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ref]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[ref] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(ref domain.Ref, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, ref)
	}
}

// Acquire blocks until ref is free, the timeout elapses (Busy) or ctx ends.
// The returned func releases the lock and must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, ref domain.Ref) (func(), error) {
	e := l.entry(ref)
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.release(ref, e)
			})
		}, nil
	case <-timer.C:
		l.release(ref, e)
		return nil, domain.Busy("acquire lock", fmt.Sprintf("%s is locked by another request", ref)).WithRef(ref)
	case <-ctx.Done():
		l.release(ref, e)
		return nil, fmt.Errorf("acquire lock %s: %w", ref, ctx.Err())
	}
}

// Held reports how many documents currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
