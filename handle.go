package conversa

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

// Handle is a lazy resolution front-end bound to one capability key. Get
// triggers a resolution on every call; the handle itself never caches -
// caching is the scope store's job, so repeated Get calls on a transient
// binding re-resolve while calls against a scoped binding transparently hit
// the store. Handles never own the underlying instances.
//
// A handle handed to a factory through DependsOnDeferred is backed by a
// deferred cell instead: it resolves its target exactly once, on first
// access, after the construction cycle has unwound.
type Handle struct {
	c           *Container
	key         Key
	alternative string

	cell *deferredCell
}

// HandleFor returns a lazy handle for capability type T.
//
// Example:
//
//	greeters := conversa.HandleFor[Greeter](container)
//	for g, err := range greeters.All(ctx) { ... }
func HandleFor[T any](c *Container, opts ...ResolveOption) *Handle {
	cfg := resolveConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyResolveOption(&cfg)
		}
	}

	key := KeyOf[T]()
	if cfg.qualifier != "" {
		key.Qualifier = cfg.qualifier
	}

	return &Handle{c: c, key: key, alternative: cfg.alternative}
}

// Key returns the capability key the handle is bound to.
func (h *Handle) Key() Key { return h.key }

// Get resolves the handle's capability synchronously, failing with whatever
// error the container raises.
func (h *Handle) Get(ctx context.Context) (any, error) {
	if h.cell != nil {
		return h.cell.get(ctx)
	}
	return h.c.resolveKey(ctx, newResolution(), h.key, h.alternative)
}

// All returns a lazy, restartable sequence over every binding registered for
// the handle's type, in registration order and regardless of qualifier. Each
// element is resolved independently: a failing alternative yields its error
// at the point it is reached and does not abort the others.
func (h *Handle) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, b := range h.c.reg.resolveAll(h.key.Type) {
			instance, err := h.c.resolveBinding(ctx, newResolution(), b)
			if !yield(instance, err) {
				return
			}
		}
	}
}

// Len returns the number of bindings the handle's All sequence would visit.
func (h *Handle) Len() int {
	return len(h.c.reg.resolveAll(h.key.Type))
}

// GetAs resolves a handle and asserts the result to T.
func GetAs[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T

	instance, err := h.Get(ctx)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, ResolutionError{
			Key:   h.key,
			Cause: fmt.Errorf("binding produced %T, which does not satisfy the requested type", instance),
		}
	}
	return typed, nil
}

// deferredCell is the cycle-breaking primitive: an ownership-free reference
// that resolves its target exactly once and memoizes the result. Forcing the
// cell while the originating construction is still unwinding resolves through
// that construction's in-progress set, so any strict cycle fails with
// CircularDependencyError instead of re-entering a creation lock the caller
// already holds.
//
// A factory that spawns goroutines must not hand them the deferred handle
// until the factory has returned: the origin resolution state is owned by
// the constructing goroutine and is read here without synchronization.
type deferredCell struct {
	c       *Container
	binding *Binding
	origin  *resolution

	mu    sync.Mutex
	done  bool
	value any
}

func (c *Container) deferredHandle(b *Binding, origin *resolution) *Handle {
	return &Handle{
		c:           c,
		key:         b.key,
		alternative: b.alternative,
		cell:        &deferredCell{c: c, binding: b, origin: origin},
	}
}

func (d *deferredCell) get(ctx context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return d.value, nil
	}

	if d.origin != nil && d.origin.inProgress[d.binding.seq] {
		// Forced from inside the factory, before the target finished: the
		// cycle has no lazy indirection after all.
		return nil, CircularDependencyError{Key: d.binding.key, Path: d.origin.chain()}
	}

	res := newResolution()
	if d.origin != nil && len(d.origin.inProgress) > 0 {
		// Forced while the originating construction is still unwinding:
		// resolve on its stack so re-entering any binding it holds fails as
		// a cycle rather than deadlocking on that binding's creation lock.
		res = d.origin
	}

	value, err := d.c.resolveBinding(ctx, res, d.binding)
	if err != nil {
		return nil, err
	}

	d.done = true
	d.value = value
	d.origin = nil
	return value, nil
}
