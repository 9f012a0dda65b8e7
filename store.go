package conversa

import (
	"log/slog"
	"sort"
	"sync"
)

// storeKey identifies one stored instance: which binding it satisfies and
// which scope key it was created under (the constant singleton key, a session
// id, or a conversation id).
type storeKey struct {
	binding  uint64
	scopeKey string
}

// storeEntry holds one instance together with its creation lock. Creation is
// double-checked: the store map is guarded by the store mutex, construction by
// the per-entry mutex, so racing first accesses of the same key block on each
// other while unrelated keys proceed independently.
type storeEntry struct {
	mu      sync.Mutex
	built   bool
	value   any
	destroy DestroyFunc
	seq     uint64 // creation order within the store, for LIFO teardown
}

// scopeStore is the shared instance table for one scope strategy. The
// container owns three of them: singletons, sessions, and conversations.
//
// Invariant: at most one instance exists per (binding, scope key) at any
// time, even under concurrent first access.
type scopeStore struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[storeKey]*storeEntry
	seq     uint64
}

func newScopeStore(name string, logger *slog.Logger) *scopeStore {
	return &scopeStore{
		name:    name,
		logger:  logger,
		entries: make(map[storeKey]*storeEntry),
	}
}

// getOrCreate returns the stored instance for (b, scopeKey), running build at
// most once per key. Concurrent callers racing to create the same entry block
// until the first creator finishes, then observe the same instance. A build
// failure leaves no entry behind, so a later call may retry.
func (s *scopeStore) getOrCreate(b *Binding, scopeKey string, build func() (any, error)) (any, error) {
	k := storeKey{binding: b.seq, scopeKey: scopeKey}

	for {
		// Fast path: already built.
		s.mu.RLock()
		entry := s.entries[k]
		s.mu.RUnlock()

		if entry == nil {
			s.mu.Lock()
			entry = s.entries[k]
			if entry == nil {
				s.seq++
				entry = &storeEntry{destroy: b.destroy, seq: s.seq}
				s.entries[k] = entry
			}
			s.mu.Unlock()
		}

		entry.mu.Lock()

		if entry.built {
			value := entry.value
			entry.mu.Unlock()
			return value, nil
		}

		// The creator we waited on may have failed and dropped this entry.
		// Building into an orphaned entry would fork a second instance that
		// the store can never see or destroy, so start over.
		s.mu.RLock()
		live := s.entries[k] == entry
		s.mu.RUnlock()
		if !live {
			entry.mu.Unlock()
			continue
		}

		value, err := build()
		if err != nil {
			// Do not cache failures.
			s.mu.Lock()
			if s.entries[k] == entry {
				delete(s.entries, k)
			}
			s.mu.Unlock()
			entry.mu.Unlock()
			return nil, err
		}

		entry.built = true
		entry.value = value
		entry.mu.Unlock()
		return value, nil
	}
}

// peek returns the stored instance without creating one.
func (s *scopeStore) peek(b *Binding, scopeKey string) (any, bool) {
	s.mu.RLock()
	entry := s.entries[storeKey{binding: b.seq, scopeKey: scopeKey}]
	s.mu.RUnlock()

	if entry == nil {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.built {
		return nil, false
	}
	return entry.value, true
}

// adopt stores an already-constructed instance, used when a transient
// conversation is promoted to long-running and its work-local instances move
// into the shared table. An existing entry for the key wins.
func (s *scopeStore) adopt(b *Binding, scopeKey string, value any) {
	k := storeKey{binding: b.seq, scopeKey: scopeKey}

	s.mu.Lock()
	if _, exists := s.entries[k]; !exists {
		s.seq++
		s.entries[k] = &storeEntry{built: true, value: value, destroy: b.destroy, seq: s.seq}
	}
	s.mu.Unlock()
}

// remove drops the entry for (b, scopeKey) and runs its destroy hook. Hook
// failures are logged and never propagated; destruction-time errors must not
// prevent store cleanup.
func (s *scopeStore) remove(b *Binding, scopeKey string) {
	k := storeKey{binding: b.seq, scopeKey: scopeKey}

	s.mu.Lock()
	entry := s.entries[k]
	delete(s.entries, k)
	s.mu.Unlock()

	if entry != nil {
		s.destroyEntry(entry, scopeKey)
	}
}

// removeScope drops every entry created under scopeKey, running destroy hooks
// in reverse creation order. Used for conversation and session teardown.
func (s *scopeStore) removeScope(scopeKey string) {
	s.mu.Lock()
	var removed []*storeEntry
	for k, entry := range s.entries {
		if k.scopeKey == scopeKey {
			removed = append(removed, entry)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].seq > removed[j].seq })
	for _, entry := range removed {
		s.destroyEntry(entry, scopeKey)
	}
}

// removeAll tears down the whole store in reverse creation order. Used when
// the container closes.
func (s *scopeStore) removeAll() {
	s.mu.Lock()
	removed := make([]*storeEntry, 0, len(s.entries))
	scopeKeys := make(map[*storeEntry]string, len(s.entries))
	for k, entry := range s.entries {
		removed = append(removed, entry)
		scopeKeys[entry] = k.scopeKey
		delete(s.entries, k)
	}
	s.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].seq > removed[j].seq })
	for _, entry := range removed {
		s.destroyEntry(entry, scopeKeys[entry])
	}
}

func (s *scopeStore) destroyEntry(entry *storeEntry, scopeKey string) {
	entry.mu.Lock()
	built, value, destroy := entry.built, entry.value, entry.destroy
	entry.value = nil
	entry.built = false
	entry.mu.Unlock()

	if !built || destroy == nil {
		return
	}

	if err := destroy(value); err != nil {
		s.logger.Error("destroy hook failed during scope teardown",
			"store", s.name,
			"scopeKey", scopeKey,
			"error", err)
	}
}
