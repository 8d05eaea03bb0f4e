package usecase

import (
	"context"
	"sync"
)

// threadLocks hands out one lock per thread id. Entries are reference
// counted and dropped once nobody holds or waits on them.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*threadLock)}
}

// acquire blocks until the thread is free or ctx is done. The returned
// release func must be called exactly once on success.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[threadID]
	if !ok {
		e = &threadLock{sem: make(chan struct{}, 1)}
		l.entries[threadID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.unref(threadID, e)
		}, nil
	case <-ctx.Done():
		l.unref(threadID, e)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) unref(threadID string, e *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, threadID)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
