package conversa

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConversationState is a logical unit of work that may span multiple
// physical request/response exchanges, identified by an opaque id.
//
// A conversation starts transient: visible to exactly one work unit,
// ephemeral, never entered into the process-wide table. Begin promotes it to
// long-running, after which it can be suspended and restored across work
// units by id. End is terminal.
type ConversationState struct {
	id string

	// busy serializes active attachment: at most one work unit holds a
	// long-running conversation at a time.
	busy chan struct{}

	mu          sync.Mutex
	longRunning bool
	ended       bool
}

func newTransientConversation() *ConversationState {
	return &ConversationState{
		id:   uuid.NewString(),
		busy: make(chan struct{}, 1),
	}
}

// ID returns the conversation's opaque id.
func (c *ConversationState) ID() string { return c.id }

// LongRunning reports whether Begin has promoted this conversation.
func (c *ConversationState) LongRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.longRunning && !c.ended
}

// Ended reports whether the conversation has reached its terminal state.
func (c *ConversationState) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// release drops the active attachment. Non-blocking: cleanup paths run
// unconditionally and must never hang on an already-released conversation.
func (c *ConversationState) release() {
	select {
	case <-c.busy:
	default:
	}
}

// Conversations manages the identity, lifetime state, and work-unit
// association of long-running conversations. It owns the process-wide
// conversation table and tears down conversation-scoped instances when a
// conversation ends.
//
// Access it through Container.Conversations.
type Conversations struct {
	store          *scopeStore
	logger         *slog.Logger
	restoreTimeout time.Duration

	mu    sync.RWMutex
	table map[string]*ConversationState
}

func newConversations(store *scopeStore, opts *Options) *Conversations {
	return &Conversations{
		store:          store,
		logger:         opts.Logger,
		restoreTimeout: opts.RestoreTimeout,
		table:          make(map[string]*ConversationState),
	}
}

// Begin promotes the current conversation from transient to long-running.
// It generates a fresh id, registers the conversation in the process-wide
// table, and marks it active on the current work unit. Instances already
// created under the transient conversation move into the shared store under
// the new id.
//
// Begin fails if the current work unit already holds a long-running
// conversation.
func (m *Conversations) Begin(ctx context.Context) (string, error) {
	w, err := workFromContext(ctx)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conv != nil && w.conv.LongRunning() {
		return "", ErrConversationActive
	}

	conv := &ConversationState{
		id:          uuid.NewString(),
		busy:        make(chan struct{}, 1),
		longRunning: true,
	}
	conv.busy <- struct{}{} // active on the calling work unit

	// Promote transient-conversation state under the durable id.
	for _, entry := range w.takeLocal() {
		m.store.adopt(entry.binding, conv.id, entry.value)
	}

	m.mu.Lock()
	m.table[conv.id] = conv
	m.mu.Unlock()

	w.conv = conv
	return conv.id, nil
}

// Restore looks up id in the process-wide table and attaches the conversation
// to the current work unit as active. It returns false, never an error, when
// the id is unknown or the conversation has ended; the caller proceeds with a
// fresh transient conversation.
//
// Blocking policy: when the conversation is active on another work unit,
// Restore waits up to the configured restore timeout for it to become
// available. A timeout is treated exactly like "not found" - it is reported
// through the logger, not the caller.
func (m *Conversations) Restore(ctx context.Context, id string) bool {
	w, err := workFromContext(ctx)
	if err != nil {
		return false
	}

	m.mu.RLock()
	conv := m.table[id]
	m.mu.RUnlock()

	if conv == nil {
		return false
	}

	if w.conversation(false) == conv {
		// Already attached to this work unit.
		return true
	}

	timer := time.NewTimer(m.restoreTimeout)
	defer timer.Stop()

	select {
	case conv.busy <- struct{}{}:
	case <-timer.C:
		m.logger.Warn("conversation restore timed out",
			"error", ConversationInUseError{ID: id, Timeout: m.restoreTimeout})
		return false
	case <-ctx.Done():
		return false
	}

	if conv.Ended() {
		conv.release()
		return false
	}

	// Any transient-conversation state on this work unit is now unreachable.
	w.destroyLocal(m.logger)

	w.mu.Lock()
	prev := w.conv
	w.conv = conv
	w.mu.Unlock()

	// A previously attached long-running conversation must not stay active
	// once this work unit switches away from it.
	if prev != nil && prev.longRunningUnended() {
		prev.release()
	}
	return true
}

// End moves the current long-running conversation to its terminal state:
// removes it from the process-wide table, tears down every instance scoped to
// its id, and releases the work-unit association. A subsequent Restore of the
// same id returns false.
func (m *Conversations) End(ctx context.Context) error {
	w, err := workFromContext(ctx)
	if err != nil {
		return err
	}

	conv := w.conversation(false)
	if conv == nil || !conv.LongRunning() {
		return ErrNoLongRunningConversation
	}

	conv.mu.Lock()
	conv.ended = true
	conv.mu.Unlock()

	m.mu.Lock()
	delete(m.table, conv.id)
	m.mu.Unlock()

	m.store.removeScope(conv.id)

	w.mu.Lock()
	w.conv = nil
	w.mu.Unlock()

	conv.release()
	return nil
}

// ClearCurrent unconditionally clears the current work unit's conversation
// association without touching any stored long-running state. Instances
// created under a transient conversation are torn down here: the transient
// conversation cannot outlive its work unit.
//
// Call it exactly once per unit of work, in cleanup, regardless of outcome.
func (m *Conversations) ClearCurrent(ctx context.Context) {
	w, err := workFromContext(ctx)
	if err != nil {
		return
	}

	w.destroyLocal(m.logger)

	w.mu.Lock()
	conv := w.conv
	w.conv = nil
	w.mu.Unlock()

	if conv != nil && conv.longRunningUnended() {
		conv.release()
	}
}

// Current returns the conversation attached to the current work unit, if any.
func (m *Conversations) Current(ctx context.Context) (*ConversationState, bool) {
	w, err := workFromContext(ctx)
	if err != nil {
		return nil, false
	}
	conv := w.conversation(false)
	return conv, conv != nil
}

// Contains reports whether id is registered in the process-wide table.
func (m *Conversations) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.table[id]
	return ok
}

func (c *ConversationState) longRunningUnended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.longRunning
}
