package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"amethyst/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Order(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Add(Query, func(_ context.Context, hc *Context) error {
		calls = append(calls, "first")
		hc.Query.With("author")
		return nil
	})
	r.Add(Query, func(_ context.Context, hc *Context) error {
		calls = append(calls, "second")
		return nil
	})
	r.Add(Saved, func(context.Context, *Context) error {
		calls = append(calls, "saved")
		return nil
	})

	q := query.New("library.Book")
	require.NoError(t, r.Execute(context.Background(), Query, &Context{Query: q}))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"author"}, q.Includes())
	assert.Equal(t, 2, r.Len(Query))
	assert.Equal(t, 0, r.Len(Deleted))
}

func TestExecute_FirstErrorAborts(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	called := false
	r.Add(Saved, func(context.Context, *Context) error { return nil })
	r.Add(Saved, func(context.Context, *Context) error { return boom })
	r.Add(Saved, func(context.Context, *Context) error { called = true; return nil })

	err := r.Execute(context.Background(), Saved, &Context{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, Saved, he.Name)
	assert.Equal(t, 1, he.Index)
	assert.False(t, called)
}

func TestExecute_NoHandlers(t *testing.T) {
	var nilRegistry *Registry
	assert.NoError(t, nilRegistry.Execute(context.Background(), Query, &Context{}))
	assert.NoError(t, NewRegistry().Execute(context.Background(), "unknown", &Context{}))
}

func TestConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(Saved, func(context.Context, *Context) error { return nil })
			_ = r.Execute(context.Background(), Saved, &Context{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len(Saved))
}
