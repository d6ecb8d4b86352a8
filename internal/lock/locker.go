// internal/lock/locker.go
package lock

import (
	"context"
	"sync"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
)

// Locker sequences mutations per entity key. Holding a key is recorded on
// the returned context, so a call chain that tries to take the same key
// again fails with apperrors.ErrReentrant instead of deadlocking.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

type heldCtxKey struct{}

type held struct {
	key    string
	parent *held
}

func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Holds reports whether ctx carries key.
func Holds(ctx context.Context, key string) bool {
	h, _ := ctx.Value(heldCtxKey{}).(*held)
	for ; h != nil; h = h.parent {
		if h.key == key {
			return true
		}
	}
	return false
}

// Acquire blocks until key is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	if Holds(ctx, key) {
		return ctx, func() {}, apperrors.WithCode(apperrors.ErrReentrant, "%s", key)
	}

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return ctx, func() {}, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}

	parent, _ := ctx.Value(heldCtxKey{}).(*held)
	return context.WithValue(ctx, heldCtxKey{}, &held{key: key, parent: parent}), release, nil
}

// AcquireAll takes keys in the given order. Empty and repeated keys are skipped.
func (l *Locker) AcquireAll(ctx context.Context, keys ...string) (context.Context, func(), error) {
	releases := make([]func(), 0, len(keys))
	seen := make(map[string]bool, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		next, release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return ctx, func() {}, err
		}
		ctx = next
		releases = append(releases, release)
	}

	return ctx, releaseAll, nil
}

func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
