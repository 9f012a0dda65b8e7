package conversa

import (
	"fmt"
	"reflect"
	"strings"
)

// Key identifies what is being requested from the container: a type plus an
// optional qualifier. Multiple bindings may exist for one type; a Key with a
// qualifier narrows the request to bindings registered under that qualifier.
type Key struct {
	Type      reflect.Type
	Qualifier string
}

// KeyOf returns the capability key for type T, optionally narrowed by a
// qualifier. At most one qualifier may be given.
//
// Example:
//
//	conversa.KeyOf[Greeter]()
//	conversa.KeyOf[*Database]("read-only")
func KeyOf[T any](qualifier ...string) Key {
	k := Key{Type: reflect.TypeOf((*T)(nil)).Elem()}
	if len(qualifier) > 0 {
		k.Qualifier = qualifier[0]
	}
	return k
}

// String returns a display form of the key, used in error diagnostics.
func (k Key) String() string {
	if k.Qualifier != "" {
		return fmt.Sprintf("%s@%s", formatType(k.Type), k.Qualifier)
	}
	return formatType(k.Type)
}

// Factory constructs an instance from its already-resolved dependencies.
// The deps slice holds one value per declared dependency, in declaration
// order. Dependencies declared with DependsOnDeferred are passed as *Handle
// instead of the constructed value.
type Factory func(deps []any) (any, error)

// DestroyFunc tears an instance down when its scope ends.
type DestroyFunc func(instance any) error

// Dependency is one entry of a binding's ordered dependency list.
type Dependency struct {
	// Key is the capability the dependency requests.
	Key Key

	// Alternative optionally pins the dependency to a specific alternative id.
	Alternative string

	// Deferred marks the dependency as accepting a lazily-resolved *Handle.
	// Deferred dependencies are how construction cycles are broken: when the
	// target is already under construction on the current resolution stack,
	// the factory receives a handle instead of the finished value.
	Deferred bool
}

// InjectionPoint describes a field or method injection applied after the
// factory has run, using an independently resolved dependency value.
type InjectionPoint struct {
	// Key is the capability injected into the target.
	Key Key

	// Alternative optionally pins the injection to a specific alternative id.
	Alternative string

	// Apply stores value into instance, e.g. by setting a field or calling a
	// setter. It runs after the instance's factory has returned.
	Apply func(instance, value any) error
}

// Binding is the registered recipe for satisfying a capability key: a
// factory, its ordered dependencies, optional injection points, a scope tag,
// and an optional alternative id for disambiguation.
//
// Bindings are assembled before the container is built and are immutable
// afterwards.
type Binding struct {
	key         Key
	alternative string
	scope       Scope
	factory     Factory
	deps        []Dependency
	injects     []InjectionPoint
	destroy     DestroyFunc

	// seq is the registration order, assigned by the collection. It doubles
	// as the binding's identity in the scope stores.
	seq uint64
}

// NewBinding creates a binding for capability type T. The factory receives
// the resolved dependencies in declaration order.
//
// Example:
//
//	conversa.NewBinding[*UserService](
//	    func(deps []any) (any, error) {
//	        return &UserService{DB: deps[0].(*Database)}, nil
//	    },
//	    conversa.DependsOn(conversa.KeyOf[*Database]()),
//	    conversa.InScope(conversa.Conversation),
//	)
func NewBinding[T any](factory Factory, opts ...BindOption) *Binding {
	b := &Binding{
		key:     KeyOf[T](),
		factory: factory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyBindOption(b)
		}
	}
	return b
}

// Key returns the binding's capability key.
func (b *Binding) Key() Key { return b.key }

// Alternative returns the binding's alternative id, or "" if it has none.
func (b *Binding) Alternative() string { return b.alternative }

// Scope returns the binding's declared scope.
func (b *Binding) Scope() Scope { return b.scope }

// Dependencies returns the binding's ordered dependency list.
func (b *Binding) Dependencies() []Dependency { return b.deps }

// String implements fmt.Stringer for diagnostics.
func (b *Binding) String() string {
	var sb strings.Builder
	sb.WriteString(b.key.String())
	if b.alternative != "" {
		sb.WriteString(fmt.Sprintf(" [alternative %q]", b.alternative))
	}
	sb.WriteString(fmt.Sprintf(" (%s)", b.scope))
	return sb.String()
}

// validate checks the binding's own shape. Cross-binding checks (whether the
// declared dependencies are resolvable) happen at build time.
func (b *Binding) validate() error {
	if b.key.Type == nil {
		return ErrKeyTypeNil
	}
	if b.factory == nil {
		return ErrFactoryNil
	}
	if !b.scope.IsValid() {
		return ScopeError{Value: b.scope}
	}
	for _, ip := range b.injects {
		if ip.Apply == nil {
			return InvalidInjectionTargetError{
				Binding: b.key,
				Target:  ip.Key,
				Reason:  "injection point has no Apply function",
			}
		}
	}
	return nil
}

// A BindOption modifies the default behavior of NewBinding.
type BindOption interface {
	applyBindOption(*Binding)
}

// Qualified is a BindOption that sets the qualifier component of the
// binding's capability key. Bindings with different qualifiers never compete
// during resolution.
func Qualified(qualifier string) BindOption {
	return qualifiedOption(qualifier)
}

type qualifiedOption string

func (o qualifiedOption) String() string {
	return fmt.Sprintf("Qualified(%q)", string(o))
}

func (o qualifiedOption) applyBindOption(b *Binding) {
	b.key.Qualifier = string(o)
}

// Alternative is a BindOption that tags the binding with an alternative id.
// Several bindings may share one capability key as long as their alternative
// ids differ; a resolution that names the id picks that binding, a resolution
// that does not fails as ambiguous.
//
// Given,
//
//	c.Add(conversa.NewBinding[Greeter](newEnglish, conversa.Alternative("en")))
//	c.Add(conversa.NewBinding[Greeter](newFrench, conversa.Alternative("fr")))
//
// resolving Greeter with WithAlternative("fr") returns the French
// implementation.
func Alternative(id string) BindOption {
	return alternativeOption(id)
}

type alternativeOption string

func (o alternativeOption) String() string {
	return fmt.Sprintf("Alternative(%q)", string(o))
}

func (o alternativeOption) applyBindOption(b *Binding) {
	b.alternative = string(o)
}

// InScope is a BindOption that sets the binding's scope. The default is
// Transient.
func InScope(scope Scope) BindOption {
	return scopeOption(scope)
}

type scopeOption Scope

func (o scopeOption) String() string {
	return fmt.Sprintf("InScope(%s)", Scope(o))
}

func (o scopeOption) applyBindOption(b *Binding) {
	b.scope = Scope(o)
}

// DependsOn is a BindOption that appends capability keys to the binding's
// ordered dependency list. Dependencies are resolved strictly in declaration
// order before the factory runs.
func DependsOn(keys ...Key) BindOption {
	return dependsOnOption(keys)
}

type dependsOnOption []Key

func (o dependsOnOption) applyBindOption(b *Binding) {
	for _, k := range o {
		b.deps = append(b.deps, Dependency{Key: k})
	}
}

// DependsOnAlternative is a BindOption that appends a dependency pinned to a
// specific alternative id.
func DependsOnAlternative(key Key, alternative string) BindOption {
	return dependencyOption{Key: key, Alternative: alternative}
}

// DependsOnDeferred is a BindOption that appends a dependency resolved
// lazily: the factory receives a *Handle in that position instead of the
// constructed value. Use this on at least one side of a construction cycle.
func DependsOnDeferred(key Key) BindOption {
	return dependencyOption{Key: key, Deferred: true}
}

type dependencyOption Dependency

func (o dependencyOption) applyBindOption(b *Binding) {
	b.deps = append(b.deps, Dependency(o))
}

// InjectField is a BindOption that declares a field or method injection
// point. The apply function runs after the factory, with the instance and the
// independently resolved dependency value.
//
// Example:
//
//	conversa.InjectField(conversa.KeyOf[*Mailer](), func(instance, value any) error {
//	    instance.(*UserService).Mailer = value.(*Mailer)
//	    return nil
//	})
func InjectField(key Key, apply func(instance, value any) error) BindOption {
	return injectOption{Key: key, Apply: apply}
}

type injectOption InjectionPoint

func (o injectOption) applyBindOption(b *Binding) {
	b.injects = append(b.injects, InjectionPoint(o))
}

// OnDestroy is a BindOption that registers a teardown hook, invoked when the
// instance's scope ends. Hook failures are logged and never block teardown.
func OnDestroy(destroy DestroyFunc) BindOption {
	return destroyOption(destroy)
}

type destroyOption DestroyFunc

func (o destroyOption) applyBindOption(b *Binding) {
	b.destroy = DestroyFunc(o)
}
