package service

import (
	"context"
	"sync"
	"time"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

// background tracks work detached from the request that started it, so shutdown can wait
// for it or cut it short.
type background struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBackground() *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{ctx: ctx, cancel: cancel}
}

// Go runs fn on a context that survives the caller but keeps its correlation id.
func (b *background) Go(parent context.Context, fn func(ctx context.Context)) {
	ctx := observability.Detach(b.ctx, parent)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

// Shutdown waits for tracked work. If ctx expires first, tracked work is cancelled and
// Shutdown still waits for it to unwind before returning ctx's error.
func (b *background) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordLocks serializes writers of the same record id inside this process.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

// Lock blocks until id is free and returns its unlock func.
func (l *recordLocks) Lock(id string) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &recordLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// inflightSet lets exactly one dispatcher hold a record at a time, without waiting.
type inflightSet struct {
	ids sync.Map
}

// Claim returns a release func, or false if id is already held.
func (s *inflightSet) Claim(id string) (func(), bool) {
	if _, loaded := s.ids.LoadOrStore(id, struct{}{}); loaded {
		return nil, false
	}
	return func() { s.ids.Delete(id) }, true
}
