package chat

import (
	"sync"
	"time"

	"forumdm/internal/pkg/clock"
)

type typingKey struct {
	sender    int64
	recipient int64
}

type typingEntry struct {
	timer clock.Timer
}

// typingRegistry holds ephemeral "sender is typing to recipient" entries that
// expire after ttl unless refreshed.
type typingRegistry struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[typingKey]*typingEntry
}

func newTypingRegistry(c clock.Clock, ttl time.Duration) *typingRegistry {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &typingRegistry{
		clock:   c,
		ttl:     ttl,
		entries: make(map[typingKey]*typingEntry),
	}
}

// set records or refreshes an entry. onExpire runs, without the registry
// lock held, if the entry is neither refreshed nor cleared within ttl.
func (r *typingRegistry) set(sender, recipient int64, onExpire func()) {
	key := typingKey{sender, recipient}
	entry := &typingEntry{}

	r.mu.Lock()
	if old, ok := r.entries[key]; ok {
		old.timer.Stop()
	}
	r.entries[key] = entry
	entry.timer = r.clock.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		current, ok := r.entries[key]
		if !ok || current != entry {
			r.mu.Unlock()
			return
		}
		delete(r.entries, key)
		r.mu.Unlock()
		onExpire()
	})
	r.mu.Unlock()
}

// clear removes an entry and reports whether one existed.
func (r *typingRegistry) clear(sender, recipient int64) bool {
	key := typingKey{sender, recipient}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(r.entries, key)
	return true
}

func (r *typingRegistry) active(sender, recipient int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[typingKey{sender, recipient}]
	return ok
}

func (r *typingRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		entry.timer.Stop()
		delete(r.entries, key)
	}
}
