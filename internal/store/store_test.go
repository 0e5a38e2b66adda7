package store_test

import (
	"sync"
	"testing"
	"time"

	"amethyst/internal/dsl"
	"amethyst/internal/store"
	"amethyst/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		typ  string
		in   any
		want any
	}{
		{dsl.TypeString, "x", "x"},
		{dsl.TypeString, int64(5), "5"},
		{dsl.TypeEnum, []byte("RU"), "RU"},
		{dsl.TypeInt, "42", int64(42)},
		{dsl.TypeInt, float64(7), int64(7)},
		{dsl.TypeInt, decimal.NewFromInt(3), int64(3)},
		{dsl.TypeFloat, "1.5", 1.5},
		{dsl.TypeFloat, int64(2), 2.0},
		{dsl.TypeMoney, "12.50", decimal.RequireFromString("12.5")},
		{dsl.TypeMoney, float64(9.99), decimal.RequireFromString("9.99")},
		{dsl.TypeBool, "yes", true},
		{dsl.TypeBool, int64(0), false},
		{dsl.TypeDate, "2024-03-01", "2024-03-01"},
		{dsl.TypeDate, ts, "2024-03-01"},
		{dsl.TypeDate, "2024-03-01T00:00:00Z", "2024-03-01"},
		{dsl.TypeDatetime, "2024-03-01T13:30:00+03:00", ts},
		{dsl.TypeDatetime, "2024-03-01 10:30:00", ts},
		{dsl.TypeDatetime, ts.In(time.FixedZone("X", 3600)), ts},
		{dsl.TypeInt, nil, nil},
	}
	for _, tc := range cases {
		got, err := store.Coerce(tc.typ, tc.in)
		require.NoError(t, err, "%s %v", tc.typ, tc.in)
		if d, ok := tc.want.(decimal.Decimal); ok {
			assert.True(t, d.Equal(got.(decimal.Decimal)), "%s %v", tc.typ, tc.in)
			continue
		}
		if w, ok := tc.want.(time.Time); ok {
			assert.True(t, w.Equal(got.(time.Time)), "%s %v", tc.typ, tc.in)
			continue
		}
		assert.Equal(t, tc.want, got, "%s %v", tc.typ, tc.in)
	}

	for _, bad := range []struct {
		typ string
		in  any
	}{
		{dsl.TypeInt, "x"},
		{dsl.TypeInt, 1.5},
		{dsl.TypeFloat, true},
		{dsl.TypeMoney, "ten"},
		{dsl.TypeBool, "maybe"},
		{dsl.TypeDate, "01.03.2024"},
		{dsl.TypeDatetime, "yesterday"},
	} {
		_, err := store.Coerce(bad.typ, bad.in)
		assert.Error(t, err, "%s %v", bad.typ, bad.in)
	}
}

func TestCompareAndEqual(t *testing.T) {
	c, ok := store.Compare(int64(1), 2.5)
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = store.Compare(decimal.RequireFromString("10.0"), decimal.NewFromInt(10))
	require.True(t, ok)
	assert.Equal(t, 0, c)

	c, ok = store.Compare(true, false)
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = store.Compare("a", int64(1))
	assert.False(t, ok)
	_, ok = store.Compare(nil, "a")
	assert.False(t, ok)

	assert.True(t, store.Equal(nil, nil))
	assert.False(t, store.Equal(nil, "a"))
	assert.True(t, store.Equal("RU", "RU"))
}

func TestResolveKey(t *testing.T) {
	s := storetest.LibrarySchema(t)

	k, err := store.ResolveKey(s, storetest.Book, "author.country.code")
	require.NoError(t, err)
	assert.Equal(t, "author.country", k.Path)
	assert.Equal(t, "code", k.Column)
	assert.Equal(t, storetest.Country, k.Entity.FQN())
	assert.Len(t, k.Chain, 2)
	assert.False(t, k.ToMany)

	k, err = store.ResolveKey(s, storetest.Book, "author")
	require.NoError(t, err)
	assert.Equal(t, "author_id", k.Column, "relation name maps to its fk")
	assert.Equal(t, dsl.TypeRef, k.Type)

	k, err = store.ResolveKey(s, storetest.Author, "books.reviews.created_at")
	require.NoError(t, err)
	assert.True(t, k.ToMany)
	assert.Equal(t, dsl.TypeDatetime, k.Type)

	_, err = store.ResolveKey(s, storetest.Book, "reviews")
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
	_, err = store.ResolveKey(s, storetest.Book, "title.x")
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
}

func TestNewID(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]struct{}{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := store.NewID()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestConstraintError(t *testing.T) {
	err := &store.ConstraintError{Kind: store.ConstraintUnique, Entity: "m.A", Field: "code", Detail: "dup"}
	assert.Equal(t, "unique constraint violated on m.A.code: dup", err.Error())
}
