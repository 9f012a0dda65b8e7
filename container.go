package conversa

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// singletonScopeKey is the constant scope key of the process-wide store.
const singletonScopeKey = "singleton"

// Container is the injector: it walks the declared dependencies of a
// requested capability, constructs the object graph, and applies scope
// storage. A Container is immutable after Build and safe for concurrent use.
type Container struct {
	reg     *registry
	options *Options

	singletons    *scopeStore
	sessions      *scopeStore
	conversations *scopeStore

	convManager *Conversations

	closed int32
}

func newContainer(reg *registry, opts ...Option) *Container {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	c := &Container{
		reg:           reg,
		options:       options,
		singletons:    newScopeStore("singleton", options.Logger),
		sessions:      newScopeStore("session", options.Logger),
		conversations: newScopeStore("conversation", options.Logger),
	}
	c.convManager = newConversations(c.conversations, options)
	return c
}

// Conversations returns the conversation state machine backed by this
// container's conversation-scoped store.
func (c *Container) Conversations() *Conversations {
	return c.convManager
}

// IsClosed reports whether Close has been called.
func (c *Container) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

// Close tears the container down: singleton, session, and conversation
// instances are destroyed in reverse creation order. Destroy-hook failures
// are logged, never returned. Close is idempotent.
func (c *Container) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.conversations.removeAll()
	c.sessions.removeAll()
	c.singletons.removeAll()
	return nil
}

// EndSession tears down every session-scoped instance created under the
// context's session id. Session identity and timeouts belong to the caller;
// the container only reacts to the session ending.
func (c *Container) EndSession(ctx context.Context) error {
	id := SessionFromContext(ctx)
	if id == "" {
		return ErrNoActiveSession
	}
	c.sessions.removeScope(id)
	return nil
}

// A ResolveOption modifies a single resolution request.
type ResolveOption interface {
	applyResolveOption(*resolveConfig)
}

type resolveConfig struct {
	qualifier   string
	alternative string
}

// WithQualifier narrows the request to bindings whose capability key carries
// the qualifier.
func WithQualifier(qualifier string) ResolveOption {
	return resolveQualifierOption(qualifier)
}

type resolveQualifierOption string

func (o resolveQualifierOption) applyResolveOption(cfg *resolveConfig) {
	cfg.qualifier = string(o)
}

// WithAlternative picks a specific alternative id among competing bindings
// for one capability key.
func WithAlternative(id string) ResolveOption {
	return resolveAlternativeOption(id)
}

type resolveAlternativeOption string

func (o resolveAlternativeOption) applyResolveOption(cfg *resolveConfig) {
	cfg.alternative = string(o)
}

// Resolve returns an instance satisfying the capability key. Scoped bindings
// transparently hit their scope store; transient bindings are constructed
// anew on every call.
//
// Registry failures (NoBindingFoundError, AmbiguousBindingError) for the
// requested key itself are returned unchanged; failures further down the
// graph are wrapped in a ResolutionError identifying the binding chain.
func (c *Container) Resolve(ctx context.Context, key Key, opts ...ResolveOption) (any, error) {
	cfg := resolveConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyResolveOption(&cfg)
		}
	}
	if cfg.qualifier != "" {
		key.Qualifier = cfg.qualifier
	}

	start := time.Now()
	instance, err := c.resolveKey(ctx, newResolution(), key, cfg.alternative)

	if err == nil && c.options.OnResolved != nil {
		c.options.OnResolved(key, instance, time.Since(start))
	} else if err != nil && c.options.OnError != nil {
		c.options.OnError(key, err)
	}

	return instance, err
}

// Resolve is the type-safe front-end to Container.Resolve.
//
// Example:
//
//	basket, err := conversa.Resolve[*Basket](ctx, container)
func Resolve[T any](ctx context.Context, c *Container, opts ...ResolveOption) (T, error) {
	var zero T

	instance, err := c.Resolve(ctx, KeyOf[T](), opts...)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, ResolutionError{
			Key:   KeyOf[T](),
			Cause: fmt.Errorf("binding produced %T, which does not satisfy the requested type", instance),
		}
	}
	return typed, nil
}

// resolution is the per-call state of one resolution: the stack of bindings
// under construction, used for cycle detection and diagnostics. It lives on
// one goroutine for the duration of a single Resolve call.
type resolution struct {
	inProgress map[uint64]bool
	stack      []*Binding
}

func newResolution() *resolution {
	return &resolution{inProgress: make(map[uint64]bool)}
}

func (r *resolution) push(b *Binding) {
	r.inProgress[b.seq] = true
	r.stack = append(r.stack, b)
}

func (r *resolution) pop() {
	b := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	delete(r.inProgress, b.seq)
}

// chain returns the capability keys currently under construction, outermost
// first.
func (r *resolution) chain() []Key {
	keys := make([]Key, len(r.stack))
	for i, b := range r.stack {
		keys[i] = b.key
	}
	return keys
}

func (c *Container) resolveKey(ctx context.Context, res *resolution, key Key, alternative string) (any, error) {
	if c.IsClosed() {
		return nil, ErrContainerClosed
	}

	b, err := c.reg.resolve(key, alternative)
	if err != nil {
		return nil, err
	}

	return c.resolveBinding(ctx, res, b)
}

// resolveBinding applies the binding's scope strategy: a live scope-store
// entry is returned as-is, with no re-construction and no re-injection.
func (c *Container) resolveBinding(ctx context.Context, res *resolution, b *Binding) (any, error) {
	build := func() (any, error) { return c.construct(ctx, res, b) }

	switch b.scope {
	case Singleton:
		return c.singletons.getOrCreate(b, singletonScopeKey, build)

	case Session:
		id := SessionFromContext(ctx)
		if id == "" {
			return nil, ResolutionError{Key: b.key, Chain: res.chain(), Cause: ErrNoActiveSession}
		}
		return c.sessions.getOrCreate(b, id, build)

	case Conversation:
		w, err := workFromContext(ctx)
		if err != nil {
			return nil, ResolutionError{Key: b.key, Chain: res.chain(), Cause: err}
		}
		conv := w.conversation(true)
		if conv.LongRunning() {
			return c.conversations.getOrCreate(b, conv.id, build)
		}
		// Transient conversation: instances stay private to this work unit.
		return w.localGetOrCreate(b, build)

	default:
		return build()
	}
}

// construct builds a new instance: dependencies first, strictly in declared
// order, then the factory, then the injection points.
func (c *Container) construct(ctx context.Context, res *resolution, b *Binding) (any, error) {
	res.push(b)
	defer res.pop()

	deps := make([]any, len(b.deps))
	for i, d := range b.deps {
		db, err := c.reg.resolve(d.Key, d.Alternative)
		if err != nil {
			return nil, ResolutionError{Key: b.key, Chain: res.chain(), Cause: err}
		}

		if d.Deferred {
			// Deferred dependencies are always delivered as a handle that
			// resolves on first access, after the current construction has
			// unwound. Forcing it while the target is still on this stack is
			// a strict cycle and fails at that point.
			deps[i] = c.deferredHandle(db, res)
			continue
		}

		if res.inProgress[db.seq] {
			return nil, CircularDependencyError{Key: db.key, Path: res.chain()}
		}

		value, err := c.resolveBinding(ctx, res, db)
		if err != nil {
			return nil, err
		}
		deps[i] = value
	}

	instance, err := b.factory(deps)
	if err != nil {
		return nil, FactoryError{Key: b.key, Cause: err}
	}

	for _, ip := range b.injects {
		ib, err := c.reg.resolve(ip.Key, ip.Alternative)
		if err != nil {
			return nil, ResolutionError{Key: b.key, Chain: res.chain(), Cause: err}
		}
		if res.inProgress[ib.seq] {
			return nil, CircularDependencyError{Key: ib.key, Path: res.chain()}
		}

		value, err := c.resolveBinding(ctx, res, ib)
		if err != nil {
			return nil, err
		}
		if err := ip.Apply(instance, value); err != nil {
			return nil, InjectionError{Key: b.key, Target: ip.Key, Cause: err}
		}
	}

	return instance, nil
}
