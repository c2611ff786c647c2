// Package lock provides keyed exclusive sections: an in-process keyed mutex and an
// optional Redis layer so replicas never hold the same key at once.
package lock

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

const defaultWait = 2 * time.Second

// Unlock releases a held key. It is safe to call once.
type Unlock func()

// Locker grants exclusive sections by key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// KeyedMutex serializes holders of the same key within one process. Waiting is
// bounded by Wait and ctx; a timeout is reported as a conflict.
type KeyedMutex struct {
	Wait time.Duration

	mu   sync.Mutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex returns a keyed mutex with the given wait bound.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	if wait <= 0 {
		wait = defaultWait
	}
	return &KeyedMutex{Wait: wait, keys: make(map[string]*keyEntry)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	entry := m.ref(key)

	timer := time.NewTimer(m.Wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				m.unref(key)
			})
		}, nil
	case <-timer.C:
		m.unref(key)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "timed out waiting for exclusive section").
			WithDetails(map[string]any{"key": key})
	case <-ctx.Done():
		m.unref(key)
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "gave up waiting for exclusive section")
	}
}

func (m *KeyedMutex) ref(key string) *keyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]*keyEntry)
	}
	entry, ok := m.keys[key]
	if !ok {
		entry = &keyEntry{sem: make(chan struct{}, 1)}
		m.keys[key] = entry
	}
	entry.refs++
	return entry
}

func (m *KeyedMutex) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.keys[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(m.keys, key)
	}
}

// held reports how many keys have holders or waiters.
func (m *KeyedMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
