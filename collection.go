package conversa

import (
	"fmt"
	"reflect"
)

// Collection accumulates bindings before the container is built.
//
// Collection follows a builder pattern: bindings are registered, optionally
// grouped in modules, then frozen into a Container with Build. A Collection
// is NOT thread-safe; configure it in a single goroutine before building.
//
// Example:
//
//	c := conversa.NewCollection()
//	c.Add(conversa.NewBinding[*Logger](newLogger, conversa.InScope(conversa.Singleton)))
//	c.Add(conversa.NewBinding[*Basket](newBasket, conversa.InScope(conversa.Conversation)))
//
//	container, err := c.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer container.Close()
type Collection struct {
	bindings []*Binding
	index    map[bindingIdentity]struct{}
	built    bool
}

// bindingIdentity is the uniqueness key for duplicate detection.
type bindingIdentity struct {
	key         Key
	alternative string
}

// NewCollection creates a new empty Collection.
func NewCollection() *Collection {
	return &Collection{
		index: make(map[bindingIdentity]struct{}),
	}
}

// Add registers a binding. It fails with DuplicateBindingError if a binding
// with the same capability key and alternative id is already registered, and
// with ErrCollectionUsed after Build has been called.
func (c *Collection) Add(b *Binding) error {
	if c.built {
		return ErrCollectionUsed
	}
	if b == nil {
		return ErrBindingNil
	}
	if err := b.validate(); err != nil {
		return err
	}

	id := bindingIdentity{key: b.key, alternative: b.alternative}
	if _, exists := c.index[id]; exists {
		return DuplicateBindingError{Key: b.key, Alternative: b.alternative}
	}

	b.seq = uint64(len(c.bindings) + 1)
	c.index[id] = struct{}{}
	c.bindings = append(c.bindings, b)
	return nil
}

// AddModules applies one or more module configurations to the collection.
func (c *Collection) AddModules(modules ...ModuleOption) error {
	for _, m := range modules {
		if m == nil {
			continue
		}
		if err := m(c); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of registered bindings.
func (c *Collection) Count() int {
	return len(c.bindings)
}

// Contains reports whether at least one binding is registered for the key.
func (c *Collection) Contains(key Key) bool {
	for _, b := range c.bindings {
		if b.key == key {
			return true
		}
	}
	return false
}

// Build validates the collection and freezes it into a Container. Every
// declared dependency and injection point must be satisfiable by some
// registered binding; violations fail with InvalidInjectionTargetError so
// configuration mistakes surface at startup, not mid-request.
//
// The collection cannot be modified after a successful Build.
func (c *Collection) Build(opts ...Option) (*Container, error) {
	if c.built {
		return nil, ErrCollectionUsed
	}

	reg := newRegistry(c.bindings)

	for _, b := range c.bindings {
		for _, dep := range b.deps {
			if err := reg.checkSatisfiable(b.key, dep.Key, dep.Alternative); err != nil {
				return nil, err
			}
		}
		for _, ip := range b.injects {
			if err := reg.checkSatisfiable(b.key, ip.Key, ip.Alternative); err != nil {
				return nil, err
			}
		}
	}

	c.built = true
	return newContainer(reg, opts...), nil
}

// registry is the immutable, read-only form of a built collection. It needs
// no locking: it is never mutated after Build.
type registry struct {
	byKey  map[Key][]*Binding          // exact capability-key matches, registration order
	byType map[reflect.Type][]*Binding // all bindings per type, registration order
	keys   []Key                       // every registered key, for diagnostics
}

func newRegistry(bindings []*Binding) *registry {
	r := &registry{
		byKey:  make(map[Key][]*Binding),
		byType: make(map[reflect.Type][]*Binding),
	}
	for _, b := range bindings {
		if len(r.byKey[b.key]) == 0 {
			r.keys = append(r.keys, b.key)
		}
		r.byKey[b.key] = append(r.byKey[b.key], b)
		r.byType[b.key.Type] = append(r.byType[b.key.Type], b)
	}
	return r
}

// resolve returns exactly one binding for the key. With an empty alternative,
// exactly one binding must match the key or the resolution is ambiguous.
func (r *registry) resolve(key Key, alternative string) (*Binding, error) {
	candidates := r.byKey[key]

	if alternative != "" {
		for _, b := range candidates {
			if b.alternative == alternative {
				return b, nil
			}
		}
		return nil, NoBindingFoundError{Key: key, Alternative: alternative, Available: r.keys}
	}

	switch len(candidates) {
	case 0:
		return nil, NoBindingFoundError{Key: key, Available: r.keys}
	case 1:
		return candidates[0], nil
	default:
		alts := make([]string, len(candidates))
		for i, b := range candidates {
			alts[i] = b.alternative
		}
		return nil, AmbiguousBindingError{Key: key, Alternatives: alts}
	}
}

// resolveAll returns every binding registered for the type, regardless of
// qualifier, in registration order. The returned slice is shared and must not
// be mutated.
func (r *registry) resolveAll(t reflect.Type) []*Binding {
	return r.byType[t]
}

// checkSatisfiable verifies at build time that a dependency declared by owner
// can be resolved: the target key must have exactly one matching binding, or
// one per named alternative.
func (r *registry) checkSatisfiable(owner, target Key, alternative string) error {
	candidates := r.byKey[target]

	if len(candidates) == 0 {
		return InvalidInjectionTargetError{
			Binding: owner,
			Target:  target,
			Reason:  "no binding registered for this capability",
		}
	}

	if alternative != "" {
		for _, b := range candidates {
			if b.alternative == alternative {
				return nil
			}
		}
		return InvalidInjectionTargetError{
			Binding: owner,
			Target:  target,
			Reason:  fmt.Sprintf("no binding registered for alternative %q", alternative),
		}
	}

	if len(candidates) > 1 {
		return InvalidInjectionTargetError{
			Binding: owner,
			Target:  target,
			Reason:  fmt.Sprintf("%d competing bindings and no alternative id named", len(candidates)),
		}
	}

	return nil
}
