package conversa_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sreksten/conversa"
)

// ============================================================================
// Shared Test Types
// ============================================================================

// TGreeter is the multi-implementation capability used by alternative tests.
type TGreeter interface {
	Greet() string
}

type TEnglishGreeter struct{}

func (TEnglishGreeter) Greet() string { return "hello" }

type TFrenchGreeter struct{}

func (TFrenchGreeter) Greet() string { return "bonjour" }

// TCounter tracks how many times its factory ran.
type TCounter struct {
	N int
}

// TDatabase is a basic singleton-style dependency.
type TDatabase struct {
	DSN    string
	closed atomic.Bool
}

func (d *TDatabase) Close() error {
	d.closed.Store(true)
	return nil
}

// TBasket is a conversation-scoped service with a dependency.
type TBasket struct {
	DB    *TDatabase
	Items []string
}

// TCircularA and TCircularB depend on each other; A accepts a deferred
// handle to B.
type TCircularA struct {
	B *conversa.Handle
}

type TCircularB struct {
	A *TCircularA
}

// ============================================================================
// Shared Helpers
// ============================================================================

// buildContainer registers the given bindings and builds a container, failing
// the test on any error.
func buildContainer(t *testing.T, bindings ...*conversa.Binding) *conversa.Container {
	t.Helper()

	c := conversa.NewCollection()
	for _, b := range bindings {
		require.NoError(t, c.Add(b))
	}

	container, err := c.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	return container
}

// greeterBindings returns the en/fr pair used by several tests.
func greeterBindings() []*conversa.Binding {
	return []*conversa.Binding{
		conversa.NewBinding[TGreeter](
			func([]any) (any, error) { return TEnglishGreeter{}, nil },
			conversa.Alternative("en"),
		),
		conversa.NewBinding[TGreeter](
			func([]any) (any, error) { return TFrenchGreeter{}, nil },
			conversa.Alternative("fr"),
		),
	}
}

// countingFactory returns a factory that increments counter on every call.
func countingFactory(counter *atomic.Int64) conversa.Factory {
	return func([]any) (any, error) {
		return &TCounter{N: int(counter.Add(1))}, nil
	}
}

// destroyRecorder collects destroyed instances in order.
type destroyRecorder struct {
	mu    sync.Mutex
	order []any
}

func (r *destroyRecorder) destroy(instance any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, instance)
	return nil
}

func (r *destroyRecorder) destroyed() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.order...)
}

// recordingScopeContext implements conversa.ScopeContext for propagation
// tests.
type recordingScopeContext struct {
	mu     sync.Mutex
	synced []string
	clears int
}

func (s *recordingScopeContext) SyncConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, id)
}

func (s *recordingScopeContext) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

// fakeCarrier is an in-memory conversa.Carrier.
type fakeCarrier struct {
	inbound  string
	outbound string
	end      bool
}

func (c *fakeCarrier) ConversationID() string      { return c.inbound }
func (c *fakeCarrier) SetConversationID(id string) { c.outbound = id }
func (c *fakeCarrier) ShouldEndConversation() bool { return c.end }
