package controller

import (
	"io"
	"sync"
)

// entry is one physical device handle and its reference count
type entry struct {
	dev  io.Closer
	refs int
}

// Arena owns the open device handles behind every session.  Multi-channel
// devices expose one physical handle shared by several channel sessions;
// the arena counts references so the handle closes only when the last
// session holding it disconnects.
//
// Keys incorporate the backend name and device serial so the same serial
// reached through different backends cannot alias.
type Arena struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{entries: map[string]*entry{}}
}

// acquire returns the open handle for key, opening one with open() if none
// exists.  open runs with the arena locked, so concurrent connects to
// distinct devices serialize; device opens are bounded in time by their
// transports, which keeps the critical section short.
func (a *Arena) acquire(key string, open func() (io.Closer, error)) (io.Closer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok {
		e.refs++
		return e.dev, nil
	}
	dev, err := open()
	if err != nil {
		return nil, err
	}
	a.entries[key] = &entry{dev: dev, refs: 1}
	return dev, nil
}

// release drops one reference to key.  The handle is closed and forgotten
// when the last reference is released; the close error, if any, is returned
// for logging.
func (a *Arena) release(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(a.entries, key)
	return e.dev.Close()
}

// refs reports the live reference count for key
func (a *Arena) refs(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		return 0
	}
	return e.refs
}
