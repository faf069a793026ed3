// Package lease provides optional mutual exclusion of capture runs of the
// same WatchTarget. Runs which fail to acquire a lease abort with ErrHeld
// rather than racing the holder's checkpoint.
package lease

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrHeld is returned by TryLock when another holder has the lease.
var ErrHeld = errors.New("lease is held by another run")

// Locker grants exclusive leases of keys.
type Locker interface {
	// TryLock acquires the lease of |key| without waiting, returning a
	// function which releases it. If the lease is held, TryLock returns ErrHeld.
	TryLock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Noop is a Locker which always grants its lease. Overlapping runs of a
// WatchTarget are then detected only by checkpoint fencing.
type Noop struct{}

// TryLock implements Locker.
func (Noop) TryLock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLocker returns a MemoryLocker holding no leases.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

// TryLock implements Locker.
func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, ErrHeld
	}
	l.held[key] = true

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
