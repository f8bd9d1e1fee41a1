package orchestrator

import "sync"

// conversationLocks serializes work per conversation key. Concurrent
// messages from the same customer must not race on the same cart, while
// independent conversations proceed in parallel. Entries are reference
// counted and removed once the last holder releases.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the conversation lock is held and returns the
// release function.
func (c *conversationLocks) Acquire(key string) func() {
	c.mu.Lock()
	entry, ok := c.locks[key]
	if !ok {
		entry = &lockEntry{}
		c.locks[key] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
