package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopSrc = `
module shop

entity Customer:
  name: string required fillable
  orders: has_many[Order]

entity Order:
  number: string required unique fillable
  total: money fillable
  customer: ref[Customer] fillable on_delete=%s
`

func writeSchema(t *testing.T, onDelete string) string {
	t.Helper()
	dir := t.TempDir()
	src := fmt.Sprintf(shopSrc, onDelete)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.dsl"), []byte(src), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLintCmd(t *testing.T) {
	dir := writeSchema(t, "restrict")
	out, err := run(t, "--schema-dir", dir, "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entities, ok")

	bad := writeSchema(t, "cascade")
	out, err = run(t, "lint", bad)
	require.Error(t, err)
	assert.Contains(t, out, "on_delete_unknown")
}

func TestDDLCmd(t *testing.T) {
	dir := writeSchema(t, "restrict")

	out, err := run(t, "--schema-dir", dir, "ddl", "--dialect", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "orders"`)
	assert.Contains(t, out, `REFERENCES "customers"`)
	assert.NotContains(t, out, "ALTER TABLE")

	out, err = run(t, "--schema-dir", dir, "ddl")
	require.NoError(t, err, "memory store falls back to postgres")
	assert.Contains(t, out, "ALTER TABLE")
	assert.Less(t, strings.Index(out, "100_table_customers"), strings.Index(out, "300_fk_"))

	_, err = run(t, "--schema-dir", dir, "ddl", "--dialect", "oracle")
	assert.Error(t, err)
}

func TestMigrateCmd_SQLite(t *testing.T) {
	dir := writeSchema(t, "restrict")
	dsn := filepath.Join(t.TempDir(), "shop.db")

	_, err := run(t, "--schema-dir", dir, "--store", "sqlite", "--dsn", dsn, "migrate")
	require.NoError(t, err)
	// повторный запуск ничего не ломает
	_, err = run(t, "--schema-dir", dir, "--store", "sqlite", "--dsn", dsn, "migrate")
	require.NoError(t, err)

	_, err = run(t, "--schema-dir", dir, "migrate")
	assert.Error(t, err, "memory store has nothing to migrate")
}

func TestConfigShow_Redacts(t *testing.T) {
	t.Setenv("AMETHYST_CACHE_REDIS_PASSWORD", "hunter2")
	out, err := run(t, "--store", "sqlite", "--dsn", "file:secret.db", "--addr", ":9999", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, ":9999")
	assert.Contains(t, out, "driver: sqlite")
	assert.NotContains(t, out, "secret.db")
	assert.NotContains(t, out, "hunter2")
}

func TestInvalidConfig(t *testing.T) {
	_, err := run(t, "--store", "postgres", "config", "show")
	assert.Error(t, err, "postgres needs a dsn")
}
