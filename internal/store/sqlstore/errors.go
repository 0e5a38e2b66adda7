package sqlstore

import (
	"context"
	"strings"

	"amethyst/internal/dsl"
	"amethyst/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type operation string

const (
	opInsert operation = "insert"
	opUpdate operation = "update"
	opDelete operation = "delete"
)

type violation struct {
	kind       string // store.ConstraintUnique или store.ConstraintForeignKey
	constraint string // имя ограничения (postgres)
	columns    []string
	message    string
}

// classify распознаёт нарушения ограничений обоих драйверов.
func classify(err error) (violation, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return violation{kind: store.ConstraintUnique, constraint: pgErr.ConstraintName, message: pgErr.Message}, true
		case "23503":
			return violation{kind: store.ConstraintForeignKey, constraint: pgErr.ConstraintName, message: pgErr.Message}, true
		}
		return violation{}, false
	}

	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return violation{kind: store.ConstraintUnique, columns: sqliteColumns(liteErr.Error()), message: liteErr.Error()}, true
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return violation{kind: store.ConstraintForeignKey, message: liteErr.Error()}, true
		}
	}
	return violation{}, false
}

// sqliteColumns: "... UNIQUE constraint failed: books.title, books.author_id (2067)".
func sqliteColumns(msg string) []string {
	_, list, ok := strings.Cut(msg, "constraint failed: ")
	if !ok {
		return nil
	}
	if i := strings.LastIndex(list, " ("); i >= 0 {
		list = list[:i]
	}
	var out []string
	for _, c := range strings.Split(list, ",") {
		c = strings.TrimSpace(c)
		if i := strings.LastIndexByte(c, '.'); i >= 0 {
			c = c[i+1:]
		}
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// mapError переводит ошибку драйвера в *store.ConstraintError. Для внешних
// ключей смысл зависит от операции: при удалении на запись ссылаются,
// при вставке и изменении ссылка указывает в пустоту.
func (s *Store) mapError(ctx context.Context, err error, e *dsl.Entity, op operation, id string, data store.Row) error {
	v, ok := classify(err)
	if !ok {
		return errors.Wrapf(err, "%s %s", op, e.FQN())
	}

	if v.kind == store.ConstraintUnique {
		field := s.uniqueField(e, v)
		return &store.ConstraintError{Kind: store.ConstraintUnique, Entity: e.FQN(), Field: field, Detail: v.message}
	}

	if op == opDelete {
		return s.referencedError(ctx, e, id, v)
	}
	return s.foreignKeyError(ctx, e, data, v)
}

func (s *Store) uniqueField(e *dsl.Entity, v violation) string {
	cols := v.columns
	if v.constraint != "" {
		if sets, err := uniqueSets(e); err == nil {
			for _, set := range sets {
				if uniqueName(e.TableName(), set) == v.constraint {
					cols = set
					break
				}
			}
		}
	}
	if len(cols) == 0 {
		return ""
	}
	if f, ok := e.Field(cols[0]); ok {
		return f.Name
	}
	return cols[0]
}

func (s *Store) referencedError(ctx context.Context, e *dsl.Entity, id string, v violation) error {
	incoming := s.schema.Load().Incoming(e.FQN())
	for _, r := range incoming {
		if v.constraint != "" && fkName(r.From.TableName(), r.LocalKey) == v.constraint {
			return &store.ConstraintError{Kind: store.ConstraintReferenced, Entity: r.From.FQN(), Field: r.Name, Detail: v.message}
		}
	}
	// sqlite не называет ограничение: ищем, кто ссылается на запись
	for _, r := range incoming {
		if r.OnDelete() == "set_null" {
			continue
		}
		rows, err := s.LoadBy(ctx, r.From.FQN(), r.LocalKey, []any{id})
		if err == nil && len(rows) > 0 {
			return &store.ConstraintError{Kind: store.ConstraintReferenced, Entity: r.From.FQN(), Field: r.Name, Detail: v.message}
		}
	}
	return &store.ConstraintError{Kind: store.ConstraintReferenced, Entity: e.FQN(), Field: "id", Detail: v.message}
}

func (s *Store) foreignKeyError(ctx context.Context, e *dsl.Entity, data store.Row, v violation) error {
	rels := s.schema.Load().Relations(e.FQN())
	for _, r := range rels {
		if r.ToMany() {
			continue
		}
		if v.constraint != "" && fkName(e.TableName(), r.LocalKey) == v.constraint {
			return &store.ConstraintError{Kind: store.ConstraintForeignKey, Entity: e.FQN(), Field: r.Name, Detail: v.message}
		}
	}
	for _, r := range rels {
		if r.ToMany() {
			continue
		}
		ref, ok := data[r.LocalKey].(string)
		if !ok || ref == "" {
			continue
		}
		if exists, err := s.Exists(ctx, r.Target.FQN(), ref); err == nil && !exists {
			return &store.ConstraintError{Kind: store.ConstraintForeignKey, Entity: e.FQN(), Field: r.Name,
				Detail: "referenced " + r.Target.FQN() + " not found"}
		}
	}
	return &store.ConstraintError{Kind: store.ConstraintForeignKey, Entity: e.FQN(), Detail: v.message}
}
