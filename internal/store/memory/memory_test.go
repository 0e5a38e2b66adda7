package memory

import (
	"context"
	"sync"
	"testing"

	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"
	"amethyst/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, s *schema.Schema) store.Store {
		return New(s)
	})
}

func TestDelete_SetNullBumpsVersion(t *testing.T) {
	ctx := context.Background()
	st := New(storetest.LibrarySchema(t))
	fx := storetest.Seed(t, st)

	require.NoError(t, st.Delete(ctx, storetest.Country, fx["us"]))
	rows, err := st.LoadBy(ctx, storetest.Author, "id", []any{fx["herbert"]})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["country_id"])
	assert.Equal(t, int64(2), rows[0].Version())
}

func TestSelect_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := New(storetest.LibrarySchema(t))
	fx := storetest.Seed(t, st)

	rows, err := st.LoadBy(ctx, storetest.Book, "id", []any{fx["dune"]})
	require.NoError(t, err)
	rows[0]["title"] = "changed"

	rows, err = st.LoadBy(ctx, storetest.Book, "id", []any{fx["dune"]})
	require.NoError(t, err)
	assert.Equal(t, "Dune", rows[0]["title"])
}

func TestConcurrentInsertAndSelect(t *testing.T) {
	ctx := context.Background()
	st := New(storetest.LibrarySchema(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := st.Insert(ctx, storetest.Author, store.Row{"name": "A"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := st.Select(ctx, query.New(storetest.Author))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := st.Count(ctx, query.New(storetest.Author))
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestUnknownEntity(t *testing.T) {
	st := New(storetest.LibrarySchema(t))
	_, err := st.Select(context.Background(), query.New("library.Nope"))
	assert.Error(t, err)
	_, err = st.Insert(context.Background(), "library.Nope", store.Row{})
	assert.Error(t, err)
}
