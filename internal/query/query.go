package query

import (
	"strings"

	"amethyst/internal/filter"

	"github.com/pkg/errors"
)

type SortKey struct {
	Field string
	Desc  bool
}

// ErrInvalidOrder: значение order/_order не asc и не desc.
var ErrInvalidOrder = errors.New("invalid sort order")

// ParseSort: "-price,author.name,+title" → ключи сортировки.
func ParseSort(raw string) []SortKey {
	keys, _ := ParseSortOrder(raw, "")
	return keys
}

// ParseSortOrder разбирает sort вместе с order ("asc,desc"): i-е направление
// относится к i-му ключу, одно направление к всем. Знак перед ключом
// важнее order.
func ParseSortOrder(raw, order string) ([]SortKey, error) {
	var dirs []bool
	for _, o := range strings.Split(order, ",") {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "":
		case "asc":
			dirs = append(dirs, false)
		case "desc":
			dirs = append(dirs, true)
		default:
			return nil, errors.Wrapf(ErrInvalidOrder, "%q", o)
		}
	}

	var out []SortKey
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		desc, signed := false, true
		switch {
		case strings.HasPrefix(p, "-"):
			desc = true
			p = strings.TrimPrefix(p, "-")
		case strings.HasPrefix(p, "+"):
			p = strings.TrimPrefix(p, "+")
		default:
			signed = false
		}
		if p == "" {
			continue
		}
		if !signed {
			switch {
			case len(dirs) == 1:
				desc = dirs[0]
			case len(out) < len(dirs):
				desc = dirs[len(out)]
			}
		}
		out = append(out, SortKey{Field: p, Desc: desc})
	}
	return out, nil
}

const (
	NullsLast  = "last"
	NullsFirst = "first"
)

// Query накапливает указания для выборки: что подгрузить (with),
// что присоединить (joins), условие, сортировку и страницу.
type Query struct {
	Entity string // FQN
	Filter filter.Node
	Sort   []SortKey
	Nulls  string
	Limit  int // 0: без ограничения
	Offset int

	with  []string
	joins []string
}

func New(entity string) *Query {
	return &Query{Entity: entity, Nulls: NullsLast}
}

// With добавляет пути жадной загрузки; порядок сохраняется, повторы отбрасываются.
func (q *Query) With(paths ...string) *Query {
	q.with = appendUnique(q.with, paths...)
	return q
}

func (q *Query) Includes() []string { return append([]string(nil), q.with...) }

// Join регистрирует путь как присоединённый. Проверку пути делает Joiner.
func (q *Query) Join(paths ...string) *Query {
	q.joins = appendUnique(q.joins, paths...)
	return q
}

func (q *Query) Joins() []string { return append([]string(nil), q.joins...) }

func (q *Query) IsJoined(path string) bool {
	for _, j := range q.joins {
		if j == path {
			return true
		}
	}
	return false
}

// Where добавляет условие через AND.
func (q *Query) Where(n filter.Node) *Query {
	q.Filter = filter.And(q.Filter, n)
	return q
}

func (q *Query) OrderBy(keys ...SortKey) *Query {
	q.Sort = append(q.Sort, keys...)
	return q
}

func (q *Query) Page(limit, offset int) *Query {
	q.Limit, q.Offset = limit, offset
	return q
}

// Clone: копия для независимой модификации (например, Count без страницы).
// Дерево фильтра общее: узлы не изменяются после разбора.
func (q *Query) Clone() *Query {
	c := *q
	c.Sort = append([]SortKey(nil), q.Sort...)
	c.with = append([]string(nil), q.with...)
	c.joins = append([]string(nil), q.joins...)
	return &c
}

func appendUnique(dst []string, paths ...string) []string {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == p {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, p)
		}
	}
	return dst
}
