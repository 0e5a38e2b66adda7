package schema

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"amethyst/internal/dsl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const librarySrc = `
module library

entity Author:
  name: string required fillable
  books: has_many[Book] fk=author_id

entity Book:
  title: string required fillable
  author: ref[Author] fillable
  editor: ref[library.Author] fk=editor_ref
  reviews: has_many[Review]

entity Review:
  body: string fillable
  book: ref[Book] required on_delete=restrict
`

func entities(t *testing.T, src string) map[string]*dsl.Entity {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(src))
	require.NoError(t, err)
	out := make(map[string]*dsl.Entity, len(list))
	for _, e := range list {
		out[e.FQN()] = e
	}
	return out
}

func librarySchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(entities(t, librarySrc), Options{})
	require.NoError(t, err)
	return s
}

func TestNew_Relations(t *testing.T) {
	s := librarySchema(t)

	r, ok := s.Relation("library.Book", "author")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, r.Kind)
	assert.Equal(t, "author_id", r.LocalKey)
	assert.Equal(t, "library.Author", r.Target.FQN())
	assert.False(t, r.ToMany())

	r, ok = s.Relation("library.Book", "editor")
	require.True(t, ok)
	assert.Equal(t, "editor_ref", r.LocalKey)

	r, ok = s.Relation("library.Book", "reviews")
	require.True(t, ok)
	assert.True(t, r.ToMany())
	assert.Equal(t, "book_id", r.ForeignKey, "default fk from entity name")

	names := []string{}
	for _, r := range s.Relations("library.Book") {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"author", "editor", "reviews"}, names)
}

func TestNew_UnknownTarget(t *testing.T) {
	_, err := New(entities(t, "module m\nentity A:\n  b: ref[Nope]\n"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown relation target")
}

func TestNormalize(t *testing.T) {
	ents := entities(t, librarySrc)
	ents["shop.Book"] = &dsl.Entity{Module: "shop", Name: "Book"}
	s, err := New(ents, Options{})
	require.NoError(t, err)

	fqn, ok := s.Normalize("LIBRARY", "author")
	require.True(t, ok)
	assert.Equal(t, "library.Author", fqn)

	fqn, ok = s.Normalize("", "review")
	require.True(t, ok)
	assert.Equal(t, "library.Review", fqn)

	_, ok = s.Normalize("", "Book")
	assert.False(t, ok, "ambiguous without module")

	_, ok = s.Normalize("library", "")
	assert.False(t, ok)
}

func TestIsValidNestedRelation(t *testing.T) {
	s := librarySchema(t)

	cases := []struct {
		path string
		want bool
	}{
		{"author", true},
		{"author.books", true},
		{"author.books.reviews.book", true},
		{"title", false},
		{"author.name", false},
		{"nope", false},
		{"", false},
		{"author..books", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, s.IsValidNestedRelation("library.Book", tc.path))
			// второй вызов отдаётся из кэша
			assert.Equal(t, tc.want, s.IsValidNestedRelation("library.Book", tc.path))
		})
	}
	assert.Greater(t, s.CacheMetrics().Hits, uint64(0))
}

func TestIsValidNestedRelation_Concurrent(t *testing.T) {
	s := librarySchema(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, s.IsValidNestedRelation("library.Review", "book.author.books"))
		}()
	}
	wg.Wait()
}

func TestResolveRelations(t *testing.T) {
	s := librarySchema(t)

	got, err := s.ResolveRelations("library.Review", []string{"book.author", "book", "book.reviews"})
	require.NoError(t, err)

	paths := make([]string, 0, len(got))
	for _, r := range got {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"book", "book.author", "book.reviews"}, paths)
	assert.Equal(t, "library.Author", got[1].Relation.Target.FQN())

	_, err = s.ResolveRelations("library.Review", []string{"book.nope"})
	assert.Error(t, err)

	r, err := s.Resolve("library.Author", "books.reviews")
	require.NoError(t, err)
	assert.Equal(t, "library.Review", r.Target.FQN())
}

func TestLint(t *testing.T) {
	src := `
module m

entity A table=things:
  name: string
  b: ref[B] required on_delete=set_null
  c: ref[B] on_delete=cascade
  items: has_many[B] fk=owner_id
  constraints:
    unique(name, missing)

entity B table=things:
  a_id: string
`
	ents := entities(t, src)
	s, err := New(ents, Options{})
	require.NoError(t, err)

	codes := map[string]bool{}
	for _, is := range s.Lint() {
		codes[is.Code] = true
	}
	assert.True(t, codes["required_conflicts_on_delete"])
	assert.True(t, codes["on_delete_unknown"])
	assert.True(t, codes["has_many_fk_missing"])
	assert.True(t, codes["unique_unknown_column"])
	assert.True(t, codes["table_collision"])

	issues := LintEntities(entities(t, "module m\nentity A:\n  b: ref[Ghost]\n  b_id: string\n"))
	codes = map[string]bool{}
	for _, is := range issues {
		codes[is.Code] = true
	}
	assert.True(t, codes["ref_target_unknown"])
	assert.True(t, codes["duplicate_column"])

	assert.Empty(t, librarySchema(t).Lint())
}

func TestIncoming(t *testing.T) {
	s := librarySchema(t)

	var got []string
	for _, r := range s.Incoming("library.Author") {
		got = append(got, r.From.Name+"."+r.Name+":"+r.OnDelete())
	}
	assert.Equal(t, []string{"Book.author:restrict", "Book.editor:restrict"}, got)

	in := s.Incoming("library.Book")
	require.Len(t, in, 1)
	assert.Equal(t, "Review", in[0].From.Name)
	assert.Equal(t, "book_id", in[0].LocalKey)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "library.dsl"), []byte(librarySrc), 0o644))

	s, err := Load(dir, Options{})
	require.NoError(t, err)
	assert.Len(t, s.Entities(), 3)

	bad := filepath.Join(t.TempDir(), "bad.dsl")
	require.NoError(t, os.WriteFile(bad, []byte("module m\nentity A:\n  b: ref[B] required on_delete=set_null\n\nentity B:\n"), 0o644))
	_, err = Load(filepath.Dir(bad), Options{})
	var lintErr *LintError
	require.ErrorAs(t, err, &lintErr)
	assert.Equal(t, "required_conflicts_on_delete", lintErr.Issues[0].Code)
	assert.Contains(t, err.Error(), "blocking issue")
}
