// Package conversa provides a runtime dependency-resolution container with
// pluggable instance lifetimes, plus a propagation protocol that lets one of
// those lifetimes - the long-running, request-spanning "conversation" -
// survive across transport hops by carrying an opaque id on the wire.
//
// # Overview
//
// The library provides:
//   - Declarative bindings: a capability key (type plus optional qualifier)
//     mapped to a factory, its ordered dependencies, and a scope tag
//   - Four scopes: Transient, Singleton, Session, and Conversation
//   - Ambiguity handling via qualifiers and alternative ids
//   - Cycle breaking through deferred handles
//   - A conversation state machine with begin/restore/end semantics and
//     serialized access across concurrent work units
//   - A transport-agnostic propagator (an HTTP adapter lives in httpconv)
//
// # Basic Usage
//
// Register bindings in a collection, build a container, and resolve:
//
//	c := conversa.NewCollection()
//	c.Add(conversa.NewBinding[*Logger](newLogger, conversa.InScope(conversa.Singleton)))
//	c.Add(conversa.NewBinding[*Basket](
//	    func(deps []any) (any, error) { return &Basket{Log: deps[0].(*Logger)}, nil },
//	    conversa.DependsOn(conversa.KeyOf[*Logger]()),
//	    conversa.InScope(conversa.Conversation),
//	))
//
//	container, err := c.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer container.Close()
//
//	ctx := conversa.NewWork(context.Background())
//	basket, err := conversa.Resolve[*Basket](ctx, container)
//
// # Scopes
//
//   - Transient: a new instance per resolution, owned by the caller
//   - Singleton: one process-wide instance, torn down when the container closes
//   - Session: one instance per session id (WithSession), torn down by EndSession
//   - Conversation: one instance per conversation; transient-conversation
//     instances live only for the current unit of work, long-running ones
//     survive until the conversation ends
//
// # Conversations
//
// Every unit of work (NewWork) starts with an implicit transient
// conversation. Begin promotes it to long-running and hands back a durable
// id; Restore reattaches that id on a later unit of work; End is terminal and
// tears down everything scoped to the conversation:
//
//	conv := container.Conversations()
//	id, _ := conv.Begin(ctx)
//	// ... later, on another request ...
//	if conv.Restore(ctx2, id) {
//	    // same conversation-scoped instances as before
//	}
//
// At most one work unit holds a long-running conversation at a time; Restore
// waits a bounded time for an in-use conversation and treats a timeout like
// "not found".
//
// # Alternatives
//
// Several implementations may compete for one capability key when each is
// tagged with an alternative id. Resolving without naming an id is ambiguous;
// a Handle iterates all of them:
//
//	c.Add(conversa.NewBinding[Greeter](newEnglish, conversa.Alternative("en")))
//	c.Add(conversa.NewBinding[Greeter](newFrench, conversa.Alternative("fr")))
//
//	g, err := conversa.Resolve[Greeter](ctx, container, conversa.WithAlternative("fr"))
//
// # Cycles
//
// Mutually dependent bindings resolve when at least one side declares its
// dependency with DependsOnDeferred: the factory receives a *Handle that is
// forced after the cycle has unwound. Strict cycles fail with
// CircularDependencyError.
package conversa
