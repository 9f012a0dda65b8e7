package conversa

import (
	"context"
	"log/slog"
	"strings"
)

// Carrier is the transport-specific envelope used to move a conversation id
// across a hop. It is supplied and owned by the transport collaborator; the
// propagator only reads and writes it.
type Carrier interface {
	// ConversationID returns the inbound conversation id, or "" when the
	// exchange carries none.
	ConversationID() string

	// SetConversationID writes the outbound conversation id.
	SetConversationID(id string)

	// ShouldEndConversation reports whether this exchange asks for the
	// current conversation to be terminated.
	ShouldEndConversation() bool
}

// ScopeContext is an externally-held contextual state kept consistent with
// the conversation machine's notion of "current". Implementations are
// optional collaborators; a nil ScopeContext is valid.
type ScopeContext interface {
	// SyncConversation aligns the external state with the given id.
	SyncConversation(id string)

	// Clear drops the external state's association with the current work
	// unit.
	Clear()
}

// Propagator runs the three-phase conversation propagation protocol around
// one unit of work: HandleIncoming before the work, HandleOutgoing when the
// response leaves, Complete in cleanup.
//
// Propagation is best-effort: every phase swallows underlying failures and
// degrades to "no propagation this round". It is an optimization, never a
// correctness requirement for a single request.
type Propagator struct {
	conversations *Conversations
	scopeCtx      ScopeContext
	logger        *slog.Logger
}

// NewPropagator returns a propagator for this container's conversations.
// scopeCtx may be nil.
func (c *Container) NewPropagator(scopeCtx ScopeContext) *Propagator {
	return &Propagator{
		conversations: c.convManager,
		scopeCtx:      scopeCtx,
		logger:        c.options.Logger,
	}
}

// HandleIncoming reads the inbound conversation id and attempts to restore
// it. A blank or absent id is a no-op returning false, with no table lookup.
// A failed restore returns false and the work proceeds with a fresh transient
// conversation. On success the external scope context is synchronized with
// the restored id.
func (p *Propagator) HandleIncoming(ctx context.Context, carrier Carrier) bool {
	id := strings.TrimSpace(carrier.ConversationID())
	if id == "" {
		return false
	}

	if !p.conversations.Restore(ctx, id) {
		return false
	}

	if p.scopeCtx != nil {
		p.scopeCtx.SyncConversation(id)
	}
	return true
}

// HandleOutgoing writes the current conversation's id into the carrier when
// the conversation is long-running. Nothing crosses the wire for a transient
// conversation. Failures obtaining the current conversation are swallowed.
func (p *Propagator) HandleOutgoing(ctx context.Context, carrier Carrier) {
	conv, ok := p.conversations.Current(ctx)
	if !ok || !conv.LongRunning() {
		return
	}

	carrier.SetConversationID(conv.ID())
	if p.scopeCtx != nil {
		p.scopeCtx.SyncConversation(conv.ID())
	}
}

// Complete finishes the unit of work. When the carrier signals termination it
// ends the current long-running conversation, swallowing failures; then it
// unconditionally clears the work unit's conversation association. The
// ordering guarantees work-unit cleanup even if ending the conversation
// fails.
func (p *Propagator) Complete(ctx context.Context, carrier Carrier) {
	if carrier.ShouldEndConversation() {
		if err := p.conversations.End(ctx); err != nil {
			p.logger.Debug("ending conversation at completion failed", "error", err)
		}
	}

	p.conversations.ClearCurrent(ctx)
	if p.scopeCtx != nil {
		p.scopeCtx.Clear()
	}
}
