package conversa_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreksten/conversa"
)

func TestCollection_Add(t *testing.T) {
	t.Run("rejects nil binding", func(t *testing.T) {
		c := conversa.NewCollection()
		require.ErrorIs(t, c.Add(nil), conversa.ErrBindingNil)
	})

	t.Run("rejects nil factory", func(t *testing.T) {
		c := conversa.NewCollection()
		err := c.Add(conversa.NewBinding[*TCounter](nil))
		require.ErrorIs(t, err, conversa.ErrFactoryNil)
	})

	t.Run("rejects duplicate key and alternative", func(t *testing.T) {
		c := conversa.NewCollection()
		factory := func([]any) (any, error) { return &TCounter{}, nil }

		require.NoError(t, c.Add(conversa.NewBinding[*TCounter](factory)))

		err := c.Add(conversa.NewBinding[*TCounter](factory))
		var dup conversa.DuplicateBindingError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, conversa.KeyOf[*TCounter](), dup.Key)
	})

	t.Run("same key with distinct alternatives is allowed", func(t *testing.T) {
		c := conversa.NewCollection()
		for _, b := range greeterBindings() {
			require.NoError(t, c.Add(b))
		}
		assert.Equal(t, 2, c.Count())
	})

	t.Run("qualifier separates capability keys", func(t *testing.T) {
		c := conversa.NewCollection()
		factory := func([]any) (any, error) { return &TDatabase{}, nil }

		require.NoError(t, c.Add(conversa.NewBinding[*TDatabase](factory, conversa.Qualified("read-only"))))
		require.NoError(t, c.Add(conversa.NewBinding[*TDatabase](factory, conversa.Qualified("read-write"))))

		assert.True(t, c.Contains(conversa.KeyOf[*TDatabase]("read-only")))
		assert.False(t, c.Contains(conversa.KeyOf[*TDatabase]()))
	})
}

func TestCollection_Build(t *testing.T) {
	t.Run("fails on unsatisfiable dependency", func(t *testing.T) {
		c := conversa.NewCollection()
		require.NoError(t, c.Add(conversa.NewBinding[*TBasket](
			func(deps []any) (any, error) { return &TBasket{DB: deps[0].(*TDatabase)}, nil },
			conversa.DependsOn(conversa.KeyOf[*TDatabase]()),
		)))

		_, err := c.Build()
		var invalid conversa.InvalidInjectionTargetError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, conversa.KeyOf[*TBasket](), invalid.Binding)
		assert.Equal(t, conversa.KeyOf[*TDatabase](), invalid.Target)
	})

	t.Run("fails on unsatisfiable injection point", func(t *testing.T) {
		c := conversa.NewCollection()
		require.NoError(t, c.Add(conversa.NewBinding[*TBasket](
			func([]any) (any, error) { return &TBasket{}, nil },
			conversa.InjectField(conversa.KeyOf[*TDatabase](), func(instance, value any) error {
				instance.(*TBasket).DB = value.(*TDatabase)
				return nil
			}),
		)))

		_, err := c.Build()
		var invalid conversa.InvalidInjectionTargetError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("fails on ambiguous dependency without alternative", func(t *testing.T) {
		c := conversa.NewCollection()
		for _, b := range greeterBindings() {
			require.NoError(t, c.Add(b))
		}
		require.NoError(t, c.Add(conversa.NewBinding[*TCounter](
			func([]any) (any, error) { return &TCounter{}, nil },
			conversa.DependsOn(conversa.KeyOf[TGreeter]()),
		)))

		_, err := c.Build()
		var invalid conversa.InvalidInjectionTargetError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("dependency pinned to alternative builds", func(t *testing.T) {
		c := conversa.NewCollection()
		for _, b := range greeterBindings() {
			require.NoError(t, c.Add(b))
		}
		require.NoError(t, c.Add(conversa.NewBinding[*TCounter](
			func(deps []any) (any, error) {
				_ = deps[0].(TGreeter)
				return &TCounter{}, nil
			},
			conversa.DependsOnAlternative(conversa.KeyOf[TGreeter](), "fr"),
		)))

		container, err := c.Build()
		require.NoError(t, err)
		defer container.Close()
	})

	t.Run("collection is frozen after build", func(t *testing.T) {
		c := conversa.NewCollection()
		container, err := c.Build()
		require.NoError(t, err)
		defer container.Close()

		err = c.Add(conversa.NewBinding[*TCounter](func([]any) (any, error) { return &TCounter{}, nil }))
		require.ErrorIs(t, err, conversa.ErrCollectionUsed)

		_, err = c.Build()
		require.ErrorIs(t, err, conversa.ErrCollectionUsed)
	})
}

func TestResolve_Alternatives(t *testing.T) {
	container := buildContainer(t, greeterBindings()...)
	ctx := context.Background()

	t.Run("no alternative is ambiguous", func(t *testing.T) {
		_, err := conversa.Resolve[TGreeter](ctx, container)
		var ambiguous conversa.AmbiguousBindingError
		require.ErrorAs(t, err, &ambiguous)
		assert.Equal(t, []string{"en", "fr"}, ambiguous.Alternatives)
	})

	t.Run("named alternative resolves", func(t *testing.T) {
		g, err := conversa.Resolve[TGreeter](ctx, container, conversa.WithAlternative("fr"))
		require.NoError(t, err)
		assert.Equal(t, "bonjour", g.Greet())
	})

	t.Run("unknown alternative is not found", func(t *testing.T) {
		_, err := conversa.Resolve[TGreeter](ctx, container, conversa.WithAlternative("de"))
		require.ErrorIs(t, err, conversa.ErrBindingNotFound)

		var notFound conversa.NoBindingFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "de", notFound.Alternative)
	})

	t.Run("unregistered type is not found", func(t *testing.T) {
		_, err := conversa.Resolve[*TBasket](ctx, container)
		require.ErrorIs(t, err, conversa.ErrBindingNotFound)
	})
}

func TestModules(t *testing.T) {
	t.Run("modules register in order", func(t *testing.T) {
		inner := conversa.NewModule("greeters",
			conversa.Register(greeterBindings()[0]),
			conversa.Register(greeterBindings()[1]),
		)
		outer := conversa.NewModule("app",
			inner,
			conversa.Register(conversa.NewBinding[*TCounter](
				func([]any) (any, error) { return &TCounter{}, nil },
			)),
		)

		c := conversa.NewCollection()
		require.NoError(t, c.AddModules(outer))
		assert.Equal(t, 3, c.Count())
	})

	t.Run("module errors carry the module name", func(t *testing.T) {
		bad := conversa.NewModule("bad",
			conversa.Register(nil),
		)

		c := conversa.NewCollection()
		err := c.AddModules(bad)

		var modErr conversa.ModuleError
		require.ErrorAs(t, err, &modErr)
		assert.Equal(t, "bad", modErr.Module)
		assert.True(t, errors.Is(err, conversa.ErrBindingNil))
	})
}
