package conversa

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that should be wrapped in typed errors when returned.
// Never return these directly to users - always wrap them with context.

var (
	// Registration errors.
	ErrBindingNil     = errors.New("binding cannot be nil")
	ErrFactoryNil     = errors.New("binding factory cannot be nil")
	ErrCollectionUsed = errors.New("collection has already been built")

	// Resolution errors.
	ErrBindingNotFound  = errors.New("no binding found")
	ErrBindingAmbiguous = errors.New("multiple bindings match")
	ErrContainerClosed  = errors.New("container has been closed")
	ErrKeyTypeNil       = errors.New("capability key type cannot be nil")

	// Scope-key errors.
	ErrNoActiveSession = errors.New("no session id on the current context")
	ErrNoWorkInContext = errors.New("no unit of work on the current context")

	// Conversation errors.
	ErrConversationActive        = errors.New("a long-running conversation is already active on this unit of work")
	ErrNoLongRunningConversation = errors.New("no long-running conversation on this unit of work")
)

var (
	_ error = ScopeError{}
	_ error = DuplicateBindingError{}
	_ error = NoBindingFoundError{}
	_ error = AmbiguousBindingError{}
	_ error = InvalidInjectionTargetError{}
	_ error = CircularDependencyError{}
	_ error = ConversationInUseError{}
	_ error = ResolutionError{}
	_ error = FactoryError{}
	_ error = InjectionError{}
	_ error = ModuleError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================
// Always use these typed errors instead of fmt.Errorf() or errors.New()
// for domain-specific errors. Wrap sentinel errors with these types.

// ScopeError indicates an invalid scope value.
type ScopeError struct {
	Value any
}

func (e ScopeError) Error() string {
	return fmt.Sprintf("invalid scope: %v", e.Value)
}

// DuplicateBindingError indicates that a binding with the same capability key
// and alternative id is already registered.
type DuplicateBindingError struct {
	Key         Key
	Alternative string
}

func (e DuplicateBindingError) Error() string {
	if e.Alternative != "" {
		return fmt.Sprintf("binding %s already registered for alternative %q", e.Key, e.Alternative)
	}
	return fmt.Sprintf("binding %s already registered (use Alternative to register competing implementations)", e.Key)
}

// NoBindingFoundError indicates that no binding matches a capability key.
type NoBindingFoundError struct {
	Key         Key
	Alternative string
	Available   []Key // keys that ARE registered (optional, for suggestions)
}

func (e NoBindingFoundError) Error() string {
	var b strings.Builder

	if e.Alternative != "" {
		b.WriteString(fmt.Sprintf("no binding found: %s (alternative: %q)", e.Key, e.Alternative))
	} else {
		b.WriteString(fmt.Sprintf("no binding found: %s", e.Key))
	}

	if similar := findSimilarKeys(e.Key, e.Available); len(similar) > 0 {
		b.WriteString("\n\nDid you mean one of these?\n")
		for _, k := range similar {
			b.WriteString(fmt.Sprintf("  • %s\n", k))
		}
	}

	b.WriteString("\nMake sure the binding is registered with the correct type, qualifier, and alternative.")

	return b.String()
}

func (e NoBindingFoundError) Unwrap() error {
	return ErrBindingNotFound
}

// findSimilarKeys finds registered keys with similar type names using a
// simple substring match.
func findSimilarKeys(target Key, available []Key) []Key {
	if target.Type == nil || len(available) == 0 {
		return nil
	}

	targetName := strings.ToLower(formatType(target.Type))

	var similar []Key
	for _, k := range available {
		if k.Type == nil || k == target {
			continue
		}

		name := strings.ToLower(formatType(k.Type))
		if name == targetName ||
			strings.Contains(name, targetName) ||
			strings.Contains(targetName, name) {
			similar = append(similar, k)
		}

		// Limit suggestions
		if len(similar) >= 5 {
			break
		}
	}

	return similar
}

// AmbiguousBindingError indicates that more than one binding matches a
// capability key and nothing disambiguates between them.
type AmbiguousBindingError struct {
	Key          Key
	Alternatives []string
}

func (e AmbiguousBindingError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("ambiguous binding: %d bindings match %s\n\n", len(e.Alternatives), e.Key))

	b.WriteString("Registered alternatives:\n")
	for _, alt := range e.Alternatives {
		if alt == "" {
			b.WriteString("  • (no alternative id)\n")
		} else {
			b.WriteString(fmt.Sprintf("  • %q\n", alt))
		}
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Request a specific alternative with WithAlternative\n")
	b.WriteString("  • Qualify the bindings so their capability keys differ\n")
	b.WriteString("  • Iterate all matches with a Handle instead\n")

	return b.String()
}

func (e AmbiguousBindingError) Unwrap() error {
	return ErrBindingAmbiguous
}

// InvalidInjectionTargetError indicates that a binding declares a dependency
// or injection point that no registered binding can satisfy. It is raised at
// build time, never during resolution.
type InvalidInjectionTargetError struct {
	Binding Key
	Target  Key
	Reason  string
}

func (e InvalidInjectionTargetError) Error() string {
	return fmt.Sprintf("invalid injection target on %s: %s cannot be satisfied: %s",
		e.Binding, e.Target, e.Reason)
}

// CircularDependencyError represents a dependency cycle that cannot be broken
// with a deferred handle.
type CircularDependencyError struct {
	Key  Key
	Path []Key
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")

	if len(e.Path) == 0 {
		b.WriteString(fmt.Sprintf("    %s\n", e.Key))
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.Key))
	} else {
		for i, k := range e.Path {
			b.WriteString(fmt.Sprintf("    %s\n", k))
			if i < len(e.Path)-1 {
				b.WriteString("      ↓\n")
			}
		}
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.Key))
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Mark one side of the cycle as deferred with DependsOnDeferred\n")
	b.WriteString("  • Restructure to remove the circular relationship\n")

	return b.String()
}

// ConversationInUseError indicates that a long-running conversation is active
// on another unit of work and could not be acquired before the wait timed out.
type ConversationInUseError struct {
	ID      string
	Timeout time.Duration
}

func (e ConversationInUseError) Error() string {
	return fmt.Sprintf("conversation %q is active on another unit of work (gave up after %v)", e.ID, e.Timeout)
}

// ResolutionError wraps errors that occur while resolving the dependencies of
// a binding. Chain identifies the bindings from the requested capability down
// to the failure point.
type ResolutionError struct {
	Key   Key
	Chain []Key
	Cause error
}

func (e ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("failed to resolve %s", e.Key))

	if len(e.Chain) > 0 {
		parts := make([]string, len(e.Chain))
		for i, k := range e.Chain {
			parts[i] = k.String()
		}
		b.WriteString(fmt.Sprintf(" (chain: %s)", strings.Join(parts, " → ")))
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return b.String()
}

func (e ResolutionError) Unwrap() error {
	return e.Cause
}

// FactoryError indicates that a binding's factory returned an error.
type FactoryError struct {
	Key   Key
	Cause error
}

func (e FactoryError) Error() string {
	return fmt.Sprintf("factory for %s failed: %v", e.Key, e.Cause)
}

func (e FactoryError) Unwrap() error {
	return e.Cause
}

// InjectionError indicates that applying an injection point to an already
// constructed instance failed.
type InjectionError struct {
	Key    Key
	Target Key
	Cause  error
}

func (e InjectionError) Error() string {
	return fmt.Sprintf("failed to inject %s into %s: %v", e.Target, e.Key, e.Cause)
}

func (e InjectionError) Unwrap() error {
	return e.Cause
}

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// formatType formats a reflect.Type for error messages and key display.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		// Format pointers as *Type instead of *package.Type
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	case reflect.Interface, reflect.Struct:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}
