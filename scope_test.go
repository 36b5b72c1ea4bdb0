package ligature

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Request struct {
	ID int
}

type ctxKey int

const requestKey ctxKey = iota

func TestContextualScopeUsingContextValue(t *testing.T) {
	requestScopeKey := ctxKey(100)

	var m ModuleFunc = func(b *Binder) {
		b.RegisterScope("request", NewContextualScope(requestScopeKey))
		b.BindKey(KeyFor[*Request]()).ToContextualProvider(func(ctx context.Context, _ ProvisioningContext) (any, error) {
			r, ok := ctx.Value(requestKey).(*Request)
			if !ok {
				return nil, assert.AnError
			}
			return r, nil
		}).In("request")
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	t.Run("provides from context value when the scope is active", func(t *testing.T) {
		ctx := WithContextualScopeEnabled(context.WithValue(context.Background(), requestKey, &Request{ID: 42}), requestScopeKey)

		v, err := injector.GetInstance(ctx, KeyFor[*Request]())
		require.NoError(t, err)
		assert.Equal(t, 42, v.(*Request).ID)
	})

	t.Run("caches within the same context", func(t *testing.T) {
		ctx := WithContextualScopeEnabled(context.WithValue(context.Background(), requestKey, &Request{ID: 7}), requestScopeKey)

		first, err := injector.GetInstance(ctx, KeyFor[*Request]())
		require.NoError(t, err)
		second, err := injector.GetInstance(ctx, KeyFor[*Request]())
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("fails when the scope was never activated on the context", func(t *testing.T) {
		_, err := injector.GetInstance(context.Background(), KeyFor[*Request]())
		assert.Error(t, err)
	})
}

type counter struct {
	n int
}

func TestSingletonScopeConstructsOnce(t *testing.T) {
	builds := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*counter]()).ToProvider(func() *counter {
			builds++
			return &counter{n: builds}
		}).In(Singleton)
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	first, err := injector.GetInstance(context.Background(), KeyFor[*counter]())
	require.NoError(t, err)
	second, err := injector.GetInstance(context.Background(), KeyFor[*counter]())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestSingletonScopeDoesNotCacheFailure(t *testing.T) {
	attempts := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*counter]()).ToProvider(func() (*counter, error) {
			attempts++
			if attempts < 2 {
				return nil, assert.AnError
			}
			return &counter{n: attempts}, nil
		}).In(Singleton)
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyFor[*counter]())
	assert.Error(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[*counter]())
	require.NoError(t, err)
	assert.Equal(t, 2, v.(*counter).n)
}

func TestUnscopedRebuildsEveryCall(t *testing.T) {
	builds := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*counter]()).ToProvider(func() *counter {
			builds++
			return &counter{n: builds}
		})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	first, err := injector.GetInstance(context.Background(), KeyFor[*counter]())
	require.NoError(t, err)
	second, err := injector.GetInstance(context.Background(), KeyFor[*counter]())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, builds)
}

func TestIsCircularProxyFalseForOrdinaryValues(t *testing.T) {
	assert.False(t, IsCircularProxy(nil))
	assert.False(t, IsCircularProxy(&counter{}))
}

func TestProviderKeyReflectsFuncShape(t *testing.T) {
	key := KeyFor[*counter]()
	pk := key.ProviderKey()
	assert.Equal(t, reflect.Func, pk.Type().Reflect().Kind())
}
