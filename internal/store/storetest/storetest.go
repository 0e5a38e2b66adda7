// Package storetest: общий набор проверок для реализаций store.Store.
package storetest

import (
	"context"
	"strings"
	"testing"

	"amethyst/internal/dsl"
	"amethyst/internal/filter"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const LibrarySrc = `
module library

entity Country:
  code: string required unique

entity Author:
  name: string required
  country: ref[Country] on_delete=set_null
  books: has_many[Book] fk=author_id

entity Book:
  title: string required
  price: money
  pages: int
  published_at: date
  available: bool
  author: ref[Author] on_delete=restrict
  reviews: has_many[Review]
  constraints:
    unique(title, author_id)

entity Review:
  rating: int required
  body: string
  book: ref[Book] required on_delete=restrict
`

const (
	Country = "library.Country"
	Author  = "library.Author"
	Book    = "library.Book"
	Review  = "library.Review"
)

// LibrarySchema: схема библиотеки для тестов хранилищ.
func LibrarySchema(t testing.TB) *schema.Schema {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(LibrarySrc))
	require.NoError(t, err)
	ents := make(map[string]*dsl.Entity, len(list))
	for _, e := range list {
		ents[e.FQN()] = e
	}
	s, err := schema.New(ents, schema.Options{})
	require.NoError(t, err)
	return s
}

// Fixture: id записей по короткому имени.
type Fixture map[string]string

// Seed наполняет хранилище: 2 страны, 3 автора, 4 книги, 4 отзыва.
func Seed(t testing.TB, st store.Store) Fixture {
	t.Helper()
	ctx := context.Background()
	fx := Fixture{}
	ins := func(name, entity string, data store.Row) {
		row, err := st.Insert(ctx, entity, data)
		require.NoError(t, err, name)
		fx[name] = row.ID()
	}
	dec := decimal.RequireFromString

	ins("ru", Country, store.Row{"code": "RU"})
	ins("us", Country, store.Row{"code": "US"})

	ins("tolstoy", Author, store.Row{"name": "Tolstoy", "country_id": fx["ru"]})
	ins("herbert", Author, store.Row{"name": "Herbert", "country_id": fx["us"]})
	ins("anon", Author, store.Row{"name": "Anon"})

	ins("war", Book, store.Row{"title": "War and Peace", "price": dec("12.50"), "pages": int64(1225),
		"published_at": "1869-01-01", "available": true, "author_id": fx["tolstoy"]})
	ins("anna", Book, store.Row{"title": "Anna Karenina", "price": dec("9.99"), "pages": int64(864),
		"published_at": "1878-01-01", "available": false, "author_id": fx["tolstoy"]})
	ins("dune", Book, store.Row{"title": "Dune", "price": dec("15.00"), "pages": int64(412),
		"published_at": "1965-08-01", "available": true, "author_id": fx["herbert"]})
	ins("untitled", Book, store.Row{"title": "Untitled"})

	ins("r1", Review, store.Row{"rating": int64(5), "body": "great", "book_id": fx["war"]})
	ins("r2", Review, store.Row{"rating": int64(4), "book_id": fx["war"]})
	ins("r3", Review, store.Row{"rating": int64(5), "book_id": fx["dune"]})
	ins("r4", Review, store.Row{"rating": int64(2), "book_id": fx["anna"]})
	return fx
}

// Factory создаёт пустое хранилище под схему.
type Factory func(t *testing.T, s *schema.Schema) store.Store

// Run прогоняет общий набор проверок.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *schema.Schema, st store.Store, fx Fixture)
	}{
		{"InsertAndExists", testInsertAndExists},
		{"FilterOwnColumns", testFilterOwnColumns},
		{"FilterRequiresJoin", testFilterRequiresJoin},
		{"FilterBelongsTo", testFilterBelongsTo},
		{"FilterHasMany", testFilterHasMany},
		{"NullSemantics", testNullSemantics},
		{"Sort", testSort},
		{"Page", testPage},
		{"LoadBy", testLoadBy},
		{"Update", testUpdate},
		{"Constraints", testConstraints},
		{"Delete", testDelete},
		{"EagerLoad", testEagerLoad},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := LibrarySchema(t)
			st := newStore(t, s)
			t.Cleanup(func() { _ = st.Close() })
			fx := Seed(t, st)
			tc.fn(t, s, st, fx)
		})
	}
}

func mustParse(t *testing.T, expr string) filter.Node {
	t.Helper()
	n, err := filter.Parse(expr)
	require.NoError(t, err)
	return n
}

func titles(rows []store.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["title"].(string))
	}
	return out
}

func selectTitles(t *testing.T, st store.Store, q *query.Query) []string {
	t.Helper()
	if len(q.Sort) == 0 {
		q.OrderBy(query.SortKey{Field: "title"})
	}
	rows, err := st.Select(context.Background(), q)
	require.NoError(t, err)
	return titles(rows)
}

func testInsertAndExists(t *testing.T, _ *schema.Schema, st store.Store, fx Fixture) {
	ctx := context.Background()
	row, err := st.Insert(ctx, Country, store.Row{"code": "DE"})
	require.NoError(t, err)
	assert.Len(t, row.ID(), 26)
	assert.Equal(t, int64(1), row.Version())
	assert.False(t, row.UpdatedAt().IsZero())

	ok, err := st.Exists(ctx, Country, row.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(ctx, Country, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFilterOwnColumns(t *testing.T, _ *schema.Schema, st store.Store, _ Fixture) {
	cases := []struct {
		expr string
		want []string
	}{
		{`pages > 800`, []string{"Anna Karenina", "War and Peace"}},
		{`price >= '10'`, []string{"Dune", "War and Peace"}},
		{`published_at < '1900-01-01'`, []string{"Anna Karenina", "War and Peace"}},
		{`available = true`, []string{"Dune", "War and Peace"}},
		{`title ct 'AN'`, []string{"Anna Karenina", "War and Peace"}},
		{`title sw 'du' or title ew 'TLED'`, []string{"Dune", "Untitled"}},
		{`title in ('Dune', 'Nope')`, []string{"Dune"}},
		{`pages not in (412, 864)`, []string{"War and Peace"}},
		{`price is null`, []string{"Untitled"}},
		{`not (pages > 800) and pages is not null`, []string{"Dune"}},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			q := query.New(Book).Where(mustParse(t, tc.expr))
			assert.Equal(t, tc.want, selectTitles(t, st, q))

			n, err := st.Count(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, len(tc.want), n)
		})
	}

	_, err := st.Select(context.Background(), query.New(Book).Where(mustParse(t, `pages > 'many'`)))
	assert.ErrorIs(t, err, store.ErrInvalidFilter)

	_, err = st.Select(context.Background(), query.New(Book).Where(mustParse(t, `pages ct 1`)))
	assert.ErrorIs(t, err, store.ErrInvalidFilter)

	_, err = st.Select(context.Background(), query.New(Book).Where(mustParse(t, `nope = 1`)))
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
}

func testFilterRequiresJoin(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	q := query.New(Book).With("author").Where(mustParse(t, `author.name = 'Herbert'`))
	_, err := st.Select(context.Background(), q)
	assert.ErrorIs(t, err, store.ErrRelationNotJoined)

	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "author"))
	assert.Equal(t, []string{"Dune"}, selectTitles(t, st, q))
}

func testFilterBelongsTo(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	q := query.New(Book).Where(mustParse(t, `author.country.code = 'RU'`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "author.country"))
	assert.Equal(t, []string{"Anna Karenina", "War and Peace"}, selectTitles(t, st, q))

	q = query.New(Book).Where(mustParse(t, `author.name is null`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "author"))
	assert.Equal(t, []string{"Untitled"}, selectTitles(t, st, q))
}

func testFilterHasMany(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	q := query.New(Book).Where(mustParse(t, `reviews.rating = 5`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "reviews"))
	assert.Equal(t, []string{"Dune", "War and Peace"}, selectTitles(t, st, q))

	n, err := st.Count(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "no duplicates from to-many join")

	// автор, у которого есть книга с отзывом < 3
	q = query.New(Author).Where(mustParse(t, `books.reviews.rating < 3`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "books.reviews"))
	rows, err := st.Select(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Tolstoy", rows[0]["name"])

	// без книг: has_many пустой → NULL
	q = query.New(Author).Where(mustParse(t, `books.title is null`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "books"))
	rows, err = st.Select(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Anon", rows[0]["name"])
}

func testNullSemantics(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	// у Untitled нет автора: сравнение с NULL: unknown, not(unknown): unknown
	q := query.New(Book).Where(mustParse(t, `not (author.name = 'Tolstoy')`))
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "author"))
	assert.Equal(t, []string{"Dune"}, selectTitles(t, st, q))

	q = query.New(Book).Where(mustParse(t, `pages <> 412`))
	assert.Equal(t, []string{"Anna Karenina", "War and Peace"}, selectTitles(t, st, q))
}

func testSort(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	q := query.New(Book).OrderBy(query.SortKey{Field: "price", Desc: true})
	assert.Equal(t, []string{"Dune", "War and Peace", "Anna Karenina", "Untitled"}, selectTitles(t, st, q))

	q = query.New(Book).OrderBy(query.SortKey{Field: "price", Desc: true})
	q.Nulls = query.NullsFirst
	assert.Equal(t, []string{"Untitled", "Dune", "War and Peace", "Anna Karenina"}, selectTitles(t, st, q))

	q = query.New(Book).OrderBy(query.ParseSort("author.name,title")...)
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "author"))
	assert.Equal(t, []string{"Dune", "Anna Karenina", "War and Peace", "Untitled"}, selectTitles(t, st, q))

	q = query.New(Book).OrderBy(query.SortKey{Field: "reviews.rating"})
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "reviews"))
	_, err := st.Select(context.Background(), q)
	assert.ErrorIs(t, err, store.ErrInvalidFilter)

	q = query.New(Book).OrderBy(query.SortKey{Field: "author.name"})
	_, err = st.Select(context.Background(), q)
	assert.ErrorIs(t, err, store.ErrRelationNotJoined)
}

func testPage(t *testing.T, s *schema.Schema, st store.Store, _ Fixture) {
	q := query.New(Book).OrderBy(query.SortKey{Field: "title"}).Page(2, 1)
	assert.Equal(t, []string{"Dune", "Untitled"}, selectTitles(t, st, q))

	n, err := st.Count(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	q = query.New(Book).OrderBy(query.SortKey{Field: "title"}).Page(0, 3)
	assert.Equal(t, []string{"War and Peace"}, selectTitles(t, st, q))

	q = query.New(Book).Page(10, 100)
	assert.Empty(t, selectTitles(t, st, q))

	// has_many join + страница: страница по книгам, не по строкам join
	q = query.New(Book).Where(mustParse(t, `reviews.rating > 0`)).OrderBy(query.SortKey{Field: "title"}).Page(1, 1)
	require.NoError(t, query.NewJoiner(s).JoinRelations(q, "reviews"))
	assert.Equal(t, []string{"Dune"}, selectTitles(t, st, q))
}

func testLoadBy(t *testing.T, _ *schema.Schema, st store.Store, fx Fixture) {
	rows, err := st.LoadBy(context.Background(), Book, "author_id", []any{fx["tolstoy"], fx["anon"]})
	require.NoError(t, err)
	got := titles(rows)
	assert.ElementsMatch(t, []string{"War and Peace", "Anna Karenina"}, got)

	rows, err = st.LoadBy(context.Background(), Book, "id", []any{fx["dune"]})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, decimal.RequireFromString("15").Equal(rows[0]["price"].(decimal.Decimal)))
	assert.Equal(t, "1965-08-01", rows[0]["published_at"])
	assert.Equal(t, true, rows[0]["available"])
	assert.Equal(t, int64(412), rows[0]["pages"])
}

func testUpdate(t *testing.T, _ *schema.Schema, st store.Store, fx Fixture) {
	ctx := context.Background()

	row, err := st.Update(ctx, Book, fx["dune"], store.Row{"pages": int64(500)}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Version())
	assert.Equal(t, int64(500), row["pages"])
	assert.Equal(t, "Dune", row["title"], "partial update keeps other columns")

	_, err = st.Update(ctx, Book, fx["dune"], store.Row{"pages": int64(1)}, 1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	row, err = st.Update(ctx, Book, fx["dune"], store.Row{"price": nil}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row.Version())
	assert.Nil(t, row["price"])

	_, err = st.Update(ctx, Book, "nope", store.Row{"pages": int64(1)}, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConstraints(t *testing.T, _ *schema.Schema, st store.Store, fx Fixture) {
	ctx := context.Background()
	var ce *store.ConstraintError

	_, err := st.Insert(ctx, Country, store.Row{"code": "RU"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintUnique, ce.Kind)

	_, err = st.Insert(ctx, Book, store.Row{"title": "Dune", "author_id": fx["herbert"]})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintUnique, ce.Kind)

	_, err = st.Insert(ctx, Book, store.Row{"title": "Dune", "author_id": fx["tolstoy"]})
	assert.NoError(t, err, "composite unique differs by author")

	_, err = st.Insert(ctx, Book, store.Row{"title": "Ghost", "author_id": "01HZZZZZZZZZZZZZZZZZZZZZZZ"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintForeignKey, ce.Kind)

	_, err = st.Update(ctx, Country, fx["us"], store.Row{"code": "RU"}, 0)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintUnique, ce.Kind)
}

func testDelete(t *testing.T, _ *schema.Schema, st store.Store, fx Fixture) {
	ctx := context.Background()
	var ce *store.ConstraintError

	err := st.Delete(ctx, Author, fx["tolstoy"])
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, store.ConstraintReferenced, ce.Kind)

	// set_null: автор остаётся без страны
	require.NoError(t, st.Delete(ctx, Country, fx["ru"]))
	rows, err := st.LoadBy(ctx, Author, "id", []any{fx["tolstoy"]})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["country_id"])

	require.NoError(t, st.Delete(ctx, Book, fx["untitled"]))
	ok, err := st.Exists(ctx, Book, fx["untitled"])
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, st.Delete(ctx, Book, fx["untitled"]), store.ErrNotFound)
}

func testEagerLoad(t *testing.T, s *schema.Schema, st store.Store, fx Fixture) {
	ctx := context.Background()
	q := query.New(Book).OrderBy(query.SortKey{Field: "title"})
	rows, err := st.Select(ctx, q)
	require.NoError(t, err)

	require.NoError(t, store.EagerLoad(ctx, st, s, Book, rows, []string{"author.country", "reviews"}))

	byTitle := map[string]store.Row{}
	for _, r := range rows {
		byTitle[r["title"].(string)] = r
	}

	war := byTitle["War and Peace"]
	author, ok := war["author"].(store.Row)
	require.True(t, ok)
	assert.Equal(t, "Tolstoy", author["name"])
	country, ok := author["country"].(store.Row)
	require.True(t, ok)
	assert.Equal(t, "RU", country["code"])
	assert.Len(t, war["reviews"], 2)

	untitled := byTitle["Untitled"]
	assert.Nil(t, untitled["author"])
	assert.Equal(t, []store.Row{}, untitled["reviews"])

	assert.Error(t, store.EagerLoad(ctx, st, s, Book, rows, []string{"nope"}))
}
