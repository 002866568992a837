// Package lock serializes work on a single booking across goroutines and
// service replicas.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the lock is still held by someone else
// after the caller's context or wait budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive, keyed locks.
type Locker interface {
	// Acquire blocks until key is locked or ctx is done. The returned
	// release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex for single-replica deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size is used by tests to check that idle keys are dropped.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const defaultRetryInterval = 25 * time.Millisecond
