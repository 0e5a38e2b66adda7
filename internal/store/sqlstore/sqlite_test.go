package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"amethyst/internal/schema"
	"amethyst/internal/store"
	"amethyst/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T, s *schema.Schema) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, sqlite{}, filepath.Join(t.TempDir(), "amethyst.db"))
	require.NoError(t, err)
	st := New(db, sqlite{}, s)
	require.NoError(t, st.Migrate(ctx))
	return st
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, s *schema.Schema) store.Store {
		return newSQLite(t, s)
	})
}

func TestSQLite_MigrateTwice(t *testing.T) {
	st := newSQLite(t, storetest.LibrarySchema(t))
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_ConstraintFields(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t, storetest.LibrarySchema(t))
	defer st.Close()
	fx := storetest.Seed(t, st)
	var ce *store.ConstraintError

	_, err := st.Insert(ctx, storetest.Country, store.Row{"code": "US"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "code", ce.Field)

	_, err = st.Insert(ctx, storetest.Book, store.Row{"title": "Dune", "author_id": fx["herbert"]})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "title", ce.Field)

	_, err = st.Insert(ctx, storetest.Review, store.Row{"rating": int64(1), "book_id": "missing"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintForeignKey, ce.Kind)
	assert.Equal(t, "book", ce.Field)

	err = st.Delete(ctx, storetest.Book, fx["war"])
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintReferenced, ce.Kind)
	assert.Equal(t, storetest.Review, ce.Entity)
	assert.Equal(t, "book", ce.Field)
}

func TestSQLite_DatetimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t, storetest.LibrarySchema(t))
	defer st.Close()

	row, err := st.Insert(ctx, storetest.Country, store.Row{"code": "FR"})
	require.NoError(t, err)
	created := row.UpdatedAt()
	assert.Equal(t, "UTC", created.Location().String())

	rows, err := st.LoadBy(ctx, storetest.Country, "updated_at", []any{created})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID(), rows[0].ID())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", sqliteDSN("a.db?_pragma=foreign_keys(0)"))
}
