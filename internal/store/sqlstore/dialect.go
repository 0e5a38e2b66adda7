package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"amethyst/internal/dsl"

	"github.com/pkg/errors"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// sqliteTimeLayout: фиксированная ширина, чтобы строки сортировались как время.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect: различия между postgres и sqlite в генерируемом SQL.
type Dialect interface {
	Name() string
	DriverName() string
	Placeholder(n int) string
	ColumnType(typ string) (string, error)
	// Like: оператор регистронезависимого сравнения по шаблону.
	Like() string
	LimitOffset(limit, offset int) string
	// Arg переводит каноническое значение в параметр драйвера.
	Arg(typ string, v any) any
	// Literal: значение по умолчанию в DDL.
	Literal(typ string, v any) string
	// InlineForeignKeys: FK объявляются в create table, а не отдельным alter.
	InlineForeignKeys() bool
}

func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Postgres, "pg", "pgx":
		return postgres{}, nil
	case SQLite, "sqlite3":
		return sqlite{}, nil
	}
	return nil, errors.Errorf("unknown sql dialect %q", name)
}

type postgres struct{}

func (postgres) Name() string { return Postgres }
func (postgres) DriverName() string { return "pgx" }
func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgres) Like() string { return "ILIKE" }
func (postgres) InlineForeignKeys() bool { return false }
func (postgres) Arg(_ string, v any) any { return v }

func (postgres) ColumnType(typ string) (string, error) {
	switch strings.ToLower(typ) {
	case dsl.TypeString, dsl.TypeEnum, dsl.TypeRef:
		return "text", nil
	case dsl.TypeInt:
		return "bigint", nil
	case dsl.TypeFloat:
		return "double precision", nil
	case dsl.TypeMoney:
		return "numeric(18,2)", nil
	case dsl.TypeBool:
		return "boolean", nil
	case dsl.TypeDate:
		return "date", nil
	case dsl.TypeDatetime:
		return "timestamptz", nil
	}
	return "", errors.Errorf("unknown type: %s", typ)
}

func (postgres) LimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, "LIMIT "+strconv.Itoa(limit))
	}
	if offset > 0 {
		parts = append(parts, "OFFSET "+strconv.Itoa(offset))
	}
	return strings.Join(parts, " ")
}

func (postgres) Literal(_ string, v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return quoteLiteral(x.Format(time.RFC3339Nano))
	}
	return literal(v)
}

type sqlite struct{}

func (sqlite) Name() string { return SQLite }
func (sqlite) DriverName() string { return "sqlite" }
func (sqlite) Placeholder(int) string { return "?" }
func (sqlite) Like() string { return "LIKE" }
func (sqlite) InlineForeignKeys() bool { return true }

func (sqlite) ColumnType(typ string) (string, error) {
	switch strings.ToLower(typ) {
	case dsl.TypeString, dsl.TypeEnum, dsl.TypeRef, dsl.TypeDate, dsl.TypeDatetime:
		return "TEXT", nil
	case dsl.TypeInt, dsl.TypeBool:
		return "INTEGER", nil
	case dsl.TypeFloat:
		return "REAL", nil
	case dsl.TypeMoney:
		return "NUMERIC", nil
	}
	return "", errors.Errorf("unknown type: %s", typ)
}

// LimitOffset: OFFSET в sqlite допустим только после LIMIT, -1: без ограничения.
func (sqlite) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (sqlite) Arg(_ string, v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(sqliteTimeLayout)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (d sqlite) Literal(typ string, v any) string {
	switch x := d.Arg(typ, v).(type) {
	case string:
		return quoteLiteral(x)
	default:
		return literal(x)
	}
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteLiteral(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
