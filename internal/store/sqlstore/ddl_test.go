package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"amethyst/internal/dsl"
	"amethyst/internal/schema"
	"amethyst/internal/store/storetest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDDL_Postgres(t *testing.T) {
	ddl, err := GenerateDDL(postgres{}, storetest.LibrarySchema(t))
	require.NoError(t, err)

	books := ddl["100_table_books"]
	assert.Contains(t, books, `CREATE TABLE IF NOT EXISTS "books"`)
	assert.Contains(t, books, `"id" text PRIMARY KEY`)
	assert.Contains(t, books, `"price" numeric(18,2)`)
	assert.Contains(t, books, `"published_at" date`)
	assert.Contains(t, books, `"title" text NOT NULL`)
	assert.NotContains(t, books, "REFERENCES")

	assert.Equal(t,
		`ALTER TABLE "books" ADD CONSTRAINT "books_author_id_fk" FOREIGN KEY ("author_id") REFERENCES "authors" ("id") ON DELETE RESTRICT`,
		ddl["300_fk_books_author_id_fk"])
	assert.Contains(t, ddl["300_fk_authors_country_id_fk"], "ON DELETE SET NULL")
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "books_title_author_id_uq" ON "books" ("title", "author_id")`,
		ddl["200_index_books_title_author_id_uq"])
	assert.Contains(t, ddl, "200_index_countries_code_uq")
	assert.Contains(t, ddl, "200_index_reviews_book_id_idx")
}

func TestGenerateDDL_SQLite(t *testing.T) {
	ddl, err := GenerateDDL(sqlite{}, storetest.LibrarySchema(t))
	require.NoError(t, err)

	for k := range ddl {
		assert.False(t, strings.HasPrefix(k, "300_"), "sqlite declares foreign keys inline: %s", k)
	}
	assert.Contains(t, ddl["100_table_books"], `"author_id" TEXT REFERENCES "authors" ("id") ON DELETE RESTRICT`)
	assert.Contains(t, ddl["100_table_authors"], `"country_id" TEXT REFERENCES "countries" ("id") ON DELETE SET NULL`)
	assert.Contains(t, ddl["100_table_books"], `"available" INTEGER`)
}

func TestGenerateDDL_DefaultsAndEnums(t *testing.T) {
	ents, err := dsl.ParseEntities(strings.NewReader(`
module shop

entity Item:
  status: enum[new, "it's"] default=new
  active: bool default=true
  price: money default=0
`))
	require.NoError(t, err)
	s, err := schema.New(map[string]*dsl.Entity{ents[0].FQN(): ents[0]}, schema.Options{})
	require.NoError(t, err)

	ddl, err := GenerateDDL(postgres{}, s)
	require.NoError(t, err)
	items := ddl["100_table_items"]
	assert.Contains(t, items, `"status" text DEFAULT 'new' CHECK ("status" IN ('new', 'it''s'))`)
	assert.Contains(t, items, `"active" boolean DEFAULT true`)
	assert.Contains(t, items, `"price" numeric(18,2) DEFAULT 0`)

	ddl, err = GenerateDDL(sqlite{}, s)
	require.NoError(t, err)
	assert.Contains(t, ddl["100_table_items"], `"active" INTEGER DEFAULT 1`)
}

func TestApplyDDL(t *testing.T) {
	db, mk, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	ddl := map[string]string{
		"100_table_a": "CREATE TABLE a",
		"200_index_a": "  ",
		"300_fk_a":    "ALTER TABLE a ADD CONSTRAINT a_fk",
		"300_fk_b":    "ALTER TABLE b ADD CONSTRAINT b_fk",
	}
	mk.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectExec("ALTER TABLE a ADD CONSTRAINT a_fk").WillReturnError(&pgconn.PgError{Code: "42710", ConstraintName: "a_fk"})
	mk.ExpectExec("ALTER TABLE b ADD CONSTRAINT b_fk").WillReturnError(errors.New(`relation "b" already exists`))

	require.NoError(t, ApplyDDL(context.Background(), db, ddl))
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestApplyDDL_Fails(t *testing.T) {
	db, mk, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mk.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))

	err = ApplyDDL(context.Background(), db, map[string]string{"100_table_a": "CREATE TABLE a", "200_index_a": "CREATE INDEX"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100_table_a")
	require.NoError(t, mk.ExpectationsWereMet())
}
