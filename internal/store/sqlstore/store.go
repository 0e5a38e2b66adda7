// Package sqlstore: хранилище поверх database/sql: postgres (pgx) и sqlite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"amethyst/internal/dsl"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// loadChunk: максимум значений в одном IN при LoadBy.
const loadChunk = 500

type Store struct {
	db      *sql.DB
	dialect Dialect
	schema  atomic.Pointer[schema.Schema]
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, d Dialect, s *schema.Schema) *Store {
	st := &Store{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
	st.schema.Store(s)
	return st
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) SetSchema(sc *schema.Schema) { s.schema.Store(sc) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate создаёт недостающие таблицы, индексы и внешние ключи текущей схемы.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := GenerateDDL(s.dialect, s.schema.Load())
	if err != nil {
		return err
	}
	return ApplyDDL(ctx, s.db, ddl)
}

func (s *Store) entity(fqn string) (*dsl.Entity, error) {
	e, ok := s.schema.Load().Entity(fqn)
	if !ok {
		return nil, errors.Errorf("unknown entity %s", fqn)
	}
	return e, nil
}

func (s *Store) Select(ctx context.Context, q *query.Query) ([]store.Row, error) {
	e, err := s.entity(q.Entity)
	if err != nil {
		return nil, err
	}
	c, err := newCompiler(s.dialect, s.schema.Load(), q)
	if err != nil {
		return nil, err
	}
	sqlText, args, err := c.selectSQL()
	if err != nil {
		return nil, err
	}
	return s.query(ctx, e, sqlText, args)
}

func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	c, err := newCompiler(s.dialect, s.schema.Load(), q)
	if err != nil {
		return 0, err
	}
	sqlText, args, err := c.countSQL()
	if err != nil {
		return 0, err
	}
	s.trace(ctx, sqlText, args)
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", q.Entity)
	}
	return n, nil
}

func (s *Store) LoadBy(ctx context.Context, entity, column string, values []any) ([]store.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	typ, ok := store.ColumnTypes(e)[column]
	if !ok {
		return nil, errors.Errorf("%s: unknown column %q", entity, column)
	}

	out := []store.Row{}
	for start := 0; start < len(values); start += loadChunk {
		end := min(start+loadChunk, len(values))
		a := args{d: s.dialect}
		ph := make([]string, 0, end-start)
		for _, v := range values[start:end] {
			cv, err := store.Coerce(typ, v)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", entity, column)
			}
			ph = append(ph, a.bind(typ, cv))
		}
		sqlText := "SELECT * FROM " + quote(e.TableName()) +
			" WHERE " + quote(column) + " IN (" + strings.Join(ph, ", ") + ")" +
			" ORDER BY " + quote("id")
		rows, err := s.query(ctx, e, sqlText, a.list)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, entity, id string) (bool, error) {
	e, err := s.entity(entity)
	if err != nil {
		return false, err
	}
	a := args{d: s.dialect}
	sqlText := "SELECT 1 FROM " + quote(e.TableName()) + " WHERE " + quote("id") + " = " + a.bind(dsl.TypeString, id)
	s.trace(ctx, sqlText, a.list)
	var one int
	err = s.db.QueryRowContext(ctx, sqlText, a.list...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", entity)
	}
	return true, nil
}

func (s *Store) Insert(ctx context.Context, entity string, data store.Row) (store.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	now := s.now()
	id := data.ID()
	if id == "" {
		id = store.NewID()
	}

	a := args{d: s.dialect}
	cols := []string{quote("id"), quote("version"), quote("created_at"), quote("updated_at")}
	ph := []string{
		a.bind(dsl.TypeString, id),
		a.bind(dsl.TypeInt, int64(1)),
		a.bind(dsl.TypeDatetime, now),
		a.bind(dsl.TypeDatetime, now),
	}
	for _, f := range e.Columns() {
		raw, ok := data[f.Column()]
		if !ok {
			continue
		}
		v, err := store.Coerce(f.Type, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", entity, f.Name)
		}
		cols = append(cols, quote(f.Column()))
		ph = append(ph, a.bind(f.Type, v))
	}

	sqlText := "INSERT INTO " + quote(e.TableName()) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
	if _, err := s.exec(ctx, sqlText, a.list); err != nil {
		return nil, s.mapError(ctx, err, e, opInsert, id, data)
	}
	return s.load(ctx, e, id)
}

func (s *Store) Update(ctx context.Context, entity, id string, data store.Row, expectedVersion int64) (store.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}

	a := args{d: s.dialect}
	var sets []string
	for _, f := range e.Columns() {
		raw, ok := data[f.Column()]
		if !ok {
			continue
		}
		v, err := store.Coerce(f.Type, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", entity, f.Name)
		}
		sets = append(sets, quote(f.Column())+" = "+a.bind(f.Type, v))
	}
	sets = append(sets,
		quote("version")+" = "+quote("version")+" + 1",
		quote("updated_at")+" = "+a.bind(dsl.TypeDatetime, s.now()))

	where := quote("id") + " = " + a.bind(dsl.TypeString, id)
	if expectedVersion > 0 {
		where += " AND " + quote("version") + " = " + a.bind(dsl.TypeInt, expectedVersion)
	}
	sqlText := "UPDATE " + quote(e.TableName()) + " SET " + strings.Join(sets, ", ") + " WHERE " + where
	res, err := s.exec(ctx, sqlText, a.list)
	if err != nil {
		return nil, s.mapError(ctx, err, e, opUpdate, id, data)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		exists, err := s.Exists(ctx, entity, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Wrapf(store.ErrNotFound, "%s %s", entity, id)
		}
		return nil, errors.Wrapf(store.ErrVersionConflict, "%s %s: expected version %d", entity, id, expectedVersion)
	}
	return s.load(ctx, e, id)
}

// Delete удаляет запись. restrict и set_null исполняет сама БД по внешним ключам.
func (s *Store) Delete(ctx context.Context, entity, id string) error {
	e, err := s.entity(entity)
	if err != nil {
		return err
	}
	a := args{d: s.dialect}
	sqlText := "DELETE FROM " + quote(e.TableName()) + " WHERE " + quote("id") + " = " + a.bind(dsl.TypeString, id)
	res, err := s.exec(ctx, sqlText, a.list)
	if err != nil {
		return s.mapError(ctx, err, e, opDelete, id, nil)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func (s *Store) load(ctx context.Context, e *dsl.Entity, id string) (store.Row, error) {
	rows, err := s.LoadBy(ctx, e.FQN(), "id", []any{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(store.ErrNotFound, "%s %s", e.FQN(), id)
	}
	return rows[0], nil
}

func (s *Store) trace(ctx context.Context, sqlText string, args []any) {
	zerolog.Ctx(ctx).Trace().Str("dialect", s.dialect.Name()).Str("sql", sqlText).Int("args", len(args)).Msg("sql")
}

func (s *Store) exec(ctx context.Context, sqlText string, args []any) (sql.Result, error) {
	s.trace(ctx, sqlText, args)
	return s.db.ExecContext(ctx, sqlText, args...)
}

func (s *Store) query(ctx context.Context, e *dsl.Entity, sqlText string, args []any) ([]store.Row, error) {
	s.trace(ctx, sqlText, args)
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", e.FQN())
	}
	return scanRows(e, rows)
}

// scanRows приводит значения драйвера к каноническим типам колонок.
func scanRows(e *dsl.Entity, rows *sql.Rows) ([]store.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "columns")
	}
	types := store.ColumnTypes(e)

	out := []store.Row{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan")
		}
		row := make(store.Row, len(cols))
		for i, col := range cols {
			if strings.HasPrefix(col, sortPrefix) {
				continue
			}
			v, err := store.Coerce(types[col], raw[i])
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", e.FQN(), col)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
