// Package lock provides short-lived mutual exclusion keyed by name, used to
// serialize token refreshes per integration across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Acquire blocks until the named lock is held, ttl elapses on the holder,
	// or ctx is done. The returned func releases the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}
