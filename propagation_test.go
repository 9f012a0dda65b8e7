package conversa_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreksten/conversa"
)

func TestPropagator_HandleIncoming(t *testing.T) {
	t.Run("blank or absent id is a no-op", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)

		ctx := conversa.NewWork(context.Background())
		assert.False(t, p.HandleIncoming(ctx, &fakeCarrier{inbound: ""}))
		assert.False(t, p.HandleIncoming(ctx, &fakeCarrier{inbound: "   "}))

		// The work unit still has no conversation attached.
		_, ok := container.Conversations().Current(ctx)
		assert.False(t, ok)
	})

	t.Run("unknown id falls back to a fresh transient conversation", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)

		ctx := conversa.NewWork(context.Background())
		assert.False(t, p.HandleIncoming(ctx, &fakeCarrier{inbound: "unknown"}))

		// The unit of work proceeds; conversation-scoped resolution works.
		_, err := conversa.Resolve[*TCounter](ctx, container)
		require.NoError(t, err)
	})

	t.Run("restores a known id and syncs scope state", func(t *testing.T) {
		container := conversationContainer(t)
		sc := &recordingScopeContext{}
		p := container.NewPropagator(sc)
		conv := container.Conversations()

		first := conversa.NewWork(context.Background())
		id, err := conv.Begin(first)
		require.NoError(t, err)
		conv.ClearCurrent(first)

		second := conversa.NewWork(context.Background())
		require.True(t, p.HandleIncoming(second, &fakeCarrier{inbound: id}))
		assert.Equal(t, []string{id}, sc.synced)

		current, ok := conv.Current(second)
		require.True(t, ok)
		assert.Equal(t, id, current.ID())
	})
}

func TestPropagator_HandleOutgoing(t *testing.T) {
	t.Run("writes the id for a long-running conversation", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)
		conv := container.Conversations()

		ctx := conversa.NewWork(context.Background())
		id, err := conv.Begin(ctx)
		require.NoError(t, err)

		car := &fakeCarrier{}
		p.HandleOutgoing(ctx, car)
		assert.Equal(t, id, car.outbound)
	})

	t.Run("writes nothing for a transient conversation", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)

		ctx := conversa.NewWork(context.Background())
		_, err := conversa.Resolve[*TCounter](ctx, container)
		require.NoError(t, err)

		car := &fakeCarrier{}
		p.HandleOutgoing(ctx, car)
		assert.Empty(t, car.outbound, "no id crosses the wire for ephemeral conversations")
	})

	t.Run("swallows a missing unit of work", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)

		car := &fakeCarrier{}
		p.HandleOutgoing(context.Background(), car)
		assert.Empty(t, car.outbound)
	})
}

func TestPropagator_Complete(t *testing.T) {
	t.Run("always clears the work unit association", func(t *testing.T) {
		container := conversationContainer(t)
		sc := &recordingScopeContext{}
		p := container.NewPropagator(sc)
		conv := container.Conversations()

		ctx := conversa.NewWork(context.Background())
		id, err := conv.Begin(ctx)
		require.NoError(t, err)

		p.Complete(ctx, &fakeCarrier{end: false})

		_, ok := conv.Current(ctx)
		assert.False(t, ok)
		assert.Equal(t, 1, sc.clears)
		assert.True(t, conv.Contains(id), "a conversation that was not asked to end survives")
	})

	t.Run("ends the conversation when the carrier signals it", func(t *testing.T) {
		container := conversationContainer(t)
		p := container.NewPropagator(nil)
		conv := container.Conversations()

		ctx := conversa.NewWork(context.Background())
		id, err := conv.Begin(ctx)
		require.NoError(t, err)

		p.Complete(ctx, &fakeCarrier{end: true})

		assert.False(t, conv.Contains(id))
		assert.False(t, conv.Restore(conversa.NewWork(context.Background()), id))
	})

	t.Run("end failure still clears", func(t *testing.T) {
		container := conversationContainer(t)
		sc := &recordingScopeContext{}
		p := container.NewPropagator(sc)

		// No long-running conversation: End fails internally, Complete
		// swallows it and cleanup still runs.
		ctx := conversa.NewWork(context.Background())
		p.Complete(ctx, &fakeCarrier{end: true})
		assert.Equal(t, 1, sc.clears)
	})
}

func TestPropagation_RoundTrip(t *testing.T) {
	container := conversationContainer(t)
	sc := &recordingScopeContext{}
	p := container.NewPropagator(sc)
	conv := container.Conversations()

	// First exchange: begin a conversation, propagate its id outbound.
	first := conversa.NewWork(context.Background())
	id, err := conv.Begin(first)
	require.NoError(t, err)
	state, err := conversa.Resolve[*TCounter](first, container)
	require.NoError(t, err)

	outbound := &fakeCarrier{}
	p.HandleOutgoing(first, outbound)
	require.Equal(t, id, outbound.outbound)
	p.Complete(first, outbound)

	// Second exchange: the wire id restores the same conversation state.
	second := conversa.NewWork(context.Background())
	inbound := &fakeCarrier{inbound: outbound.outbound}
	require.True(t, p.HandleIncoming(second, inbound))

	restored, err := conversa.Resolve[*TCounter](second, container)
	require.NoError(t, err)
	assert.Same(t, state, restored)

	// Final exchange signals the end; the conversation is gone afterwards.
	inbound.end = true
	p.Complete(second, inbound)

	third := conversa.NewWork(context.Background())
	assert.False(t, conv.Restore(third, id))
}
