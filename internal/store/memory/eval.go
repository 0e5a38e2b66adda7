package memory

import (
	"fmt"
	"sort"
	"strings"

	"amethyst/internal/filter"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
)

// tri: трёхзначная логика как в SQL: сравнение с NULL даёт unknown.
type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

type joinStep struct {
	path   string
	parent string
	rel    *schema.Relation
}

// evaluator вычисляет фильтр так же, как LEFT JOIN в SQL: запись разворачивается
// в кортежи по присоединённым отношениям (has_many даёт по кортежу на каждую
// связанную запись, пустое отношение: кортеж с NULL), запись проходит, если
// условие истинно хотя бы для одного кортежа.
type evaluator struct {
	q      *query.Query
	keys   map[string]*store.Key
	values map[*filter.ComparisonNode][]any
	steps  []joinStep
}

func newEvaluator(sc *schema.Schema, q *query.Query) (*evaluator, error) {
	ev := &evaluator{
		q:      q,
		keys:   map[string]*store.Key{},
		values: map[*filter.ComparisonNode][]any{},
	}
	if q.Filter == nil {
		return ev, nil
	}

	needed := map[string]struct{}{}
	var err error
	filter.Walk(q.Filter, func(n filter.Node) bool {
		if err != nil {
			return false
		}
		cmp, ok := n.(*filter.ComparisonNode)
		if !ok {
			return true
		}
		var k *store.Key
		k, err = store.ResolveJoined(sc, q, cmp.Key.Path)
		if err != nil {
			return false
		}
		ev.keys[cmp.Key.Path] = k
		for p := k.Path; p != ""; p = parentOf(p) {
			needed[p] = struct{}{}
		}
		ev.values[cmp], err = store.Operands(k, cmp)
		return false
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(needed))
	for p := range needed {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "."), strings.Count(paths[j], ".")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	for _, p := range paths {
		r, err := sc.Resolve(q.Entity, p)
		if err != nil {
			return nil, errors.Wrap(store.ErrInvalidFilter, err.Error())
		}
		ev.steps = append(ev.steps, joinStep{path: p, parent: parentOf(p), rel: r})
	}
	return ev, nil
}

func parentOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

type tuple map[string]store.Row

func (ev *evaluator) match(data map[string]map[string]store.Row, row store.Row) bool {
	tuples := []tuple{{"": row}}
	for _, st := range ev.steps {
		next := make([]tuple, 0, len(tuples))
		for _, t := range tuples {
			for _, child := range related(data, st.rel, t[st.parent]) {
				nt := make(tuple, len(t)+1)
				for k, v := range t {
					nt[k] = v
				}
				nt[st.path] = child
				next = append(next, nt)
			}
		}
		tuples = next
	}
	for _, t := range tuples {
		if ev.eval(ev.q.Filter, t) == triTrue {
			return true
		}
	}
	return false
}

// related: записи отношения r для parent; пустой результат: один NULL.
func related(data map[string]map[string]store.Row, r *schema.Relation, parent store.Row) []store.Row {
	if parent == nil {
		return []store.Row{nil}
	}
	if r.Kind == schema.BelongsTo {
		fk := parent[r.LocalKey]
		if fk == nil {
			return []store.Row{nil}
		}
		return []store.Row{data[r.Target.FQN()][fmt.Sprint(fk)]}
	}
	var out []store.Row
	for _, c := range data[r.Target.FQN()] {
		if fmt.Sprint(c[r.ForeignKey]) == parent.ID() {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []store.Row{nil}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (ev *evaluator) eval(n filter.Node, t tuple) tri {
	switch n := n.(type) {
	case *filter.LogicNode:
		if n.Op == filter.LogicAnd {
			res := triTrue
			for _, o := range n.Operands {
				switch ev.eval(o, t) {
				case triFalse:
					return triFalse
				case triUnknown:
					res = triUnknown
				}
			}
			return res
		}
		res := triFalse
		for _, o := range n.Operands {
			switch ev.eval(o, t) {
			case triTrue:
				return triTrue
			case triUnknown:
				res = triUnknown
			}
		}
		return res

	case *filter.NotNode:
		switch ev.eval(n.Operand, t) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		}
		return triUnknown

	case *filter.ComparisonNode:
		k := ev.keys[n.Key.Path]
		var got any
		if row := t[k.Path]; row != nil {
			got = row[k.Column]
		}
		return compare(n.Op, got, ev.values[n])
	}
	return triFalse
}

func compare(op filter.Op, got any, want []any) tri {
	switch op {
	case filter.OpIsNull:
		return boolTri(got == nil)
	case filter.OpNotNull:
		return boolTri(got != nil)
	}
	if got == nil {
		return triUnknown
	}

	switch op {
	case filter.OpIn, filter.OpNotIn:
		sawNull := false
		for _, w := range want {
			if w == nil {
				sawNull = true
				continue
			}
			if store.Equal(got, w) {
				return boolTri(op == filter.OpIn)
			}
		}
		if sawNull {
			return triUnknown
		}
		return boolTri(op == filter.OpNotIn)

	case filter.OpContains, filter.OpStartsWith, filter.OpEndsWith:
		if len(want) == 0 || want[0] == nil {
			return triUnknown
		}
		s := strings.ToLower(fmt.Sprint(got))
		w := strings.ToLower(fmt.Sprint(want[0]))
		switch op {
		case filter.OpContains:
			return boolTri(strings.Contains(s, w))
		case filter.OpStartsWith:
			return boolTri(strings.HasPrefix(s, w))
		default:
			return boolTri(strings.HasSuffix(s, w))
		}
	}

	if len(want) == 0 || want[0] == nil {
		return triUnknown
	}
	c, ok := store.Compare(got, want[0])
	if !ok {
		return triUnknown
	}
	switch op {
	case filter.OpEq:
		return boolTri(c == 0)
	case filter.OpNeq:
		return boolTri(c != 0)
	case filter.OpGt:
		return boolTri(c > 0)
	case filter.OpGte:
		return boolTri(c >= 0)
	case filter.OpLt:
		return boolTri(c < 0)
	case filter.OpLte:
		return boolTri(c <= 0)
	}
	return triUnknown
}

func boolTri(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}
