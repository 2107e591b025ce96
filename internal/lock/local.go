package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalLocker serializes within one process. Used with the memory store and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[name]
		if !busy {
			ch := make(chan struct{})
			l.locks[name] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, name)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-held:
		}
	}
}
