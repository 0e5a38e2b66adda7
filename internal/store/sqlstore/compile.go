package sqlstore

import (
	"fmt"
	"strings"

	"amethyst/internal/dsl"
	"amethyst/internal/filter"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// sortPrefix: служебные колонки сортировки при DISTINCT; в записи не попадают.
const sortPrefix = "__sort"

var comparisonSQL = map[filter.Op]string{
	filter.OpEq:  "=",
	filter.OpNeq: "<>",
	filter.OpGt:  ">",
	filter.OpGte: ">=",
	filter.OpLt:  "<",
	filter.OpLte: "<=",
}

func quote(ident string) string { return pq.QuoteIdentifier(ident) }

// args: параметры запроса с нумерацией плейсхолдеров диалекта.
type args struct {
	d    Dialect
	list []any
}

func (a *args) bind(typ string, v any) string {
	a.list = append(a.list, a.d.Arg(typ, v))
	return a.d.Placeholder(len(a.list))
}

// compiler переводит query.Query в SELECT. Базовая таблица идёт под своим
// именем, присоединённое отношение: под алиасом, равным его пути.
type compiler struct {
	args
	sc     *schema.Schema
	q      *query.Query
	base   *dsl.Entity
	toMany bool
}

func newCompiler(d Dialect, sc *schema.Schema, q *query.Query) (*compiler, error) {
	e, ok := sc.Entity(q.Entity)
	if !ok {
		return nil, errors.Errorf("unknown entity %s", q.Entity)
	}
	return &compiler{args: args{d: d}, sc: sc, q: q, base: e}, nil
}

func (c *compiler) alias(path string) string {
	if path == "" {
		return quote(c.base.TableName())
	}
	return quote(path)
}

func (c *compiler) column(k *store.Key) string {
	return c.alias(k.Path) + "." + quote(k.Column)
}

func (c *compiler) from() (string, error) {
	var b strings.Builder
	b.WriteString(" FROM " + quote(c.base.TableName()))
	joins := c.q.Joins()
	if len(joins) == 0 {
		return b.String(), nil
	}
	resolved, err := c.sc.ResolveRelations(c.q.Entity, joins)
	if err != nil {
		return "", errors.Wrap(store.ErrInvalidFilter, err.Error())
	}
	for _, rr := range resolved {
		r := rr.Relation
		if r.ToMany() {
			c.toMany = true
		}
		parent := ""
		if i := strings.LastIndexByte(rr.Path, '.'); i >= 0 {
			parent = rr.Path[:i]
		}
		alias := c.alias(rr.Path)
		fmt.Fprintf(&b, " LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			quote(r.Target.TableName()), alias,
			alias, quote(r.ForeignKey),
			c.alias(parent), quote(r.LocalKey))
	}
	return b.String(), nil
}

func (c *compiler) where() (string, error) {
	if c.q.Filter == nil {
		return "", nil
	}
	cond, err := c.node(c.q.Filter)
	if err != nil {
		return "", err
	}
	return " WHERE " + cond, nil
}

func (c *compiler) node(n filter.Node) (string, error) {
	switch x := n.(type) {
	case *filter.LogicNode:
		parts := make([]string, 0, len(x.Operands))
		for _, op := range x.Operands {
			p, err := c.node(op)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		sep := " AND "
		if x.Op == filter.LogicOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case *filter.NotNode:
		inner, err := c.node(x.Operand)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *filter.ComparisonNode:
		return c.comparison(x)
	}
	return "", errors.Wrapf(store.ErrInvalidFilter, "unsupported filter node %T", n)
}

func (c *compiler) comparison(cmp *filter.ComparisonNode) (string, error) {
	k, err := store.ResolveJoined(c.sc, c.q, cmp.Key.Path)
	if err != nil {
		return "", err
	}
	vals, err := store.Operands(k, cmp)
	if err != nil {
		return "", err
	}
	col := c.column(k)

	switch cmp.Op {
	case filter.OpIsNull:
		return col + " IS NULL", nil
	case filter.OpNotNull:
		return col + " IS NOT NULL", nil
	case filter.OpIn, filter.OpNotIn:
		if len(vals) == 0 {
			if cmp.Op == filter.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = c.bind(k.Type, v)
		}
		kw := " IN ("
		if cmp.Op == filter.OpNotIn {
			kw = " NOT IN ("
		}
		return col + kw + strings.Join(ph, ", ") + ")", nil
	}

	if len(vals) != 1 {
		return "", errors.Wrapf(store.ErrInvalidFilter, "%s: operator %s takes one value", cmp.Key.Path, cmp.Op)
	}
	v := vals[0]

	switch cmp.Op {
	case filter.OpContains, filter.OpStartsWith, filter.OpEndsWith:
		s, _ := v.(string)
		pattern := escapeLike(s)
		switch cmp.Op {
		case filter.OpContains:
			pattern = "%" + pattern + "%"
		case filter.OpStartsWith:
			pattern += "%"
		default:
			pattern = "%" + pattern
		}
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, c.d.Like(), c.bind(dsl.TypeString, pattern)), nil
	}

	op, ok := comparisonSQL[cmp.Op]
	if !ok {
		return "", errors.Wrapf(store.ErrInvalidFilter, "unsupported operator %s", cmp.Op)
	}
	if v == nil {
		return "", errors.Wrapf(store.ErrInvalidFilter, "%s: null is not comparable with %s", cmp.Key.Path, cmp.Op)
	}
	return col + " " + op + " " + c.bind(k.Type, v), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// orderBy: выражения ORDER BY и, при DISTINCT, дополнительные колонки выборки.
// Вызывать после from(): от него зависит toMany.
func (c *compiler) orderBy() (extra []string, order string, err error) {
	nulls := " NULLS LAST"
	if c.q.Nulls == query.NullsFirst {
		nulls = " NULLS FIRST"
	}
	parts := make([]string, 0, len(c.q.Sort)+1)
	for i, sk := range c.q.Sort {
		k, err := store.ResolveSort(c.sc, c.q, sk.Field)
		if err != nil {
			return nil, "", err
		}
		expr := c.column(k)
		if c.toMany {
			as := quote(fmt.Sprintf("%s%d", sortPrefix, i))
			extra = append(extra, expr+" AS "+as)
			expr = as
		}
		dir := " ASC"
		if sk.Desc {
			dir = " DESC"
		}
		parts = append(parts, expr+dir+nulls)
	}
	parts = append(parts, c.alias("")+`."id" ASC`)
	return extra, strings.Join(parts, ", "), nil
}

func (c *compiler) selectSQL() (string, []any, error) {
	from, err := c.from()
	if err != nil {
		return "", nil, err
	}
	where, err := c.where()
	if err != nil {
		return "", nil, err
	}
	extra, order, err := c.orderBy()
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if c.toMany {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(c.alias("") + ".*")
	for _, x := range extra {
		b.WriteString(", " + x)
	}
	b.WriteString(from)
	b.WriteString(where)
	b.WriteString(" ORDER BY " + order)
	if lo := c.d.LimitOffset(c.q.Limit, c.q.Offset); lo != "" {
		b.WriteString(" " + lo)
	}
	return b.String(), c.list, nil
}

func (c *compiler) countSQL() (string, []any, error) {
	from, err := c.from()
	if err != nil {
		return "", nil, err
	}
	where, err := c.where()
	if err != nil {
		return "", nil, err
	}
	count := "COUNT(*)"
	if c.toMany {
		count = "COUNT(DISTINCT " + c.alias("") + `."id")`
	}
	return "SELECT " + count + from + where, c.list, nil
}
