package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"amethyst/internal/schema"
	"amethyst/internal/store"
	"amethyst/internal/store/storetest"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce     sync.Once
	pgDSN      string
	pgStartErr error
	pgSeq      atomic.Int64
)

// postgresDSN поднимает один контейнер на весь прогон; очистку делает ryuk.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container: skipped in -short mode")
	}
	pgOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:17-alpine",
			tcpostgres.WithDatabase("postgres"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			pgStartErr = err
			return
		}
		pgDSN, pgStartErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if pgStartErr != nil {
		t.Skipf("postgres container unavailable: %v", pgStartErr)
	}
	return pgDSN
}

// freshDatabase создаёт отдельную базу на каждый тест.
func freshDatabase(t *testing.T) string {
	dsn := postgresDSN(t)
	admin, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer admin.Close()

	name := fmt.Sprintf("amethyst_%d", pgSeq.Add(1))
	_, err = admin.Exec("CREATE DATABASE " + quote(name))
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	u.Path = "/" + name
	return u.String()
}

func TestPostgresStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, s *schema.Schema) store.Store {
		ctx := context.Background()
		db, err := Open(ctx, postgres{}, freshDatabase(t))
		require.NoError(t, err)
		st := New(db, postgres{}, s)
		require.NoError(t, st.Migrate(ctx))
		// повторная миграция: FK уже есть (42710)
		require.NoError(t, st.Migrate(ctx))
		return st
	})
}
