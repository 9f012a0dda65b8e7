package conversa

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// work is one unit of work: a single request, task, or test body. It carries
// the caller's session id and the currently attached conversation, and it
// privately owns the instances created under a transient conversation.
//
// The "current conversation" is deliberately an explicit context value rather
// than ambient goroutine-local state, so propagation stays testable without
// real threads.
type work struct {
	id string

	mu      sync.Mutex
	conv    *ConversationState
	session string

	// local holds conversation-scoped instances created while the current
	// conversation is transient. They are visible to this work unit only and
	// never enter the shared conversation store under a durable key.
	local map[uint64]*localEntry
	seq   uint64
}

type localEntry struct {
	binding *Binding
	value   any
	seq     uint64
}

// workContextKey is the key for storing the current work unit in context.
type workContextKey struct{}

// NewWork returns a context carrying a fresh unit of work. Transport adapters
// call this once per request; tests call it once per scenario. All
// conversation and session operations read the work unit from the context.
func NewWork(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, workContextKey{}, &work{
		id:    uuid.NewString(),
		local: make(map[uint64]*localEntry),
	})
}

// workFromContext gets the current work unit from context.
func workFromContext(ctx context.Context) (*work, error) {
	if ctx == nil {
		return nil, ErrNoWorkInContext
	}
	w, ok := ctx.Value(workContextKey{}).(*work)
	if !ok || w == nil {
		return nil, ErrNoWorkInContext
	}
	return w, nil
}

// sessionContextKey is the key for storing the current session id in context.
type sessionContextKey struct{}

// WithSession returns a context carrying the caller's session id. Session
// identity is owned by an external collaborator; the container only uses the
// id as the scope key for session-scoped bindings.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, id)
}

// SessionFromContext returns the session id on the context, or "".
func SessionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionContextKey{}).(string)
	return id
}

// conversation returns the work unit's current conversation. With create set,
// a fresh transient conversation is attached when none is present.
func (w *work) conversation(create bool) *ConversationState {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conv == nil && create {
		w.conv = newTransientConversation()
	}
	return w.conv
}

// localGetOrCreate resolves a conversation-scoped instance while the current
// conversation is transient. The lock is not held across build: constructing
// an instance may recurse into the work unit for its own conversation-scoped
// dependencies.
func (w *work) localGetOrCreate(b *Binding, build func() (any, error)) (any, error) {
	w.mu.Lock()
	if entry, ok := w.local[b.seq]; ok {
		w.mu.Unlock()
		return entry.value, nil
	}
	w.mu.Unlock()

	value, err := build()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.local[b.seq]; ok {
		return entry.value, nil
	}
	w.seq++
	w.local[b.seq] = &localEntry{binding: b, value: value, seq: w.seq}
	return value, nil
}

// takeLocal detaches and returns the transient-conversation instances, used
// when the conversation is promoted to long-running and its state moves into
// the shared store.
func (w *work) takeLocal() []*localEntry {
	entries := make([]*localEntry, 0, len(w.local))
	for _, entry := range w.local {
		entries = append(entries, entry)
	}
	w.local = make(map[uint64]*localEntry)
	return entries
}

// destroyLocal tears down the transient-conversation instances in reverse
// creation order. Hook failures are logged and never propagate.
func (w *work) destroyLocal(logger *slog.Logger) {
	w.mu.Lock()
	entries := w.takeLocal()
	w.mu.Unlock()

	sortLocalBySeq(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.binding.destroy == nil {
			continue
		}
		if err := entry.binding.destroy(entry.value); err != nil {
			logger.Error("destroy hook failed during transient conversation teardown",
				"binding", entry.binding.String(),
				"error", err)
		}
	}
}

func sortLocalBySeq(entries []*localEntry) {
	// Insertion sort: the per-work entry count is tiny.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].seq > entries[j].seq; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
