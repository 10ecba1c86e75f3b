package app

import (
	"context"
	"sync"
)

type lockKey struct {
	machine  string
	entityID string
}

type entityLock struct {
	sem     chan struct{}
	waiters int
}

// entityLocks serializes transition attempts per (machine, entity) pair.
// Locks are channel-based so acquisition honors context cancellation, and
// entries are reference-counted so the map does not grow with entity count.
type entityLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*entityLock
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[lockKey]*entityLock)}
}

// acquire blocks until the pair's lock is held or ctx is done. On success it
// returns the release function.
func (el *entityLocks) acquire(ctx context.Context, machine, entityID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := lockKey{machine: machine, entityID: entityID}

	el.mu.Lock()
	l, ok := el.locks[key]
	if !ok {
		l = &entityLock{sem: make(chan struct{}, 1)}
		el.locks[key] = l
	}
	l.waiters++
	el.mu.Unlock()

	release := func() {
		<-l.sem
		el.drop(key, l)
	}

	select {
	case l.sem <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		el.drop(key, l)
		return nil, ctx.Err()
	}
}

func (el *entityLocks) drop(key lockKey, l *entityLock) {
	el.mu.Lock()
	l.waiters--
	if l.waiters == 0 {
		delete(el.locks, key)
	}
	el.mu.Unlock()
}
