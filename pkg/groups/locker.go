package groups

import (
	"context"
	"sync"
)

// LocalLocker satisfies Locker with in-process mutexes. Used in tests and as
// the fallback for single-node deployments where the claim table would only
// ever see one contender anyway.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) Acquire(ctx context.Context, lockID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[lockID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[lockID] = m
	}
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return m.Unlock, nil
	case <-ctx.Done():
		// the goroutine still gets the mutex eventually; hand it straight back
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}
