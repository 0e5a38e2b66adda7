package memory

import (
	"fmt"
	"sort"

	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"
)

// sortRows: мультисортировка с политикой nulls. Ключи по отношениям
// допустимы только через belongs_to. Под s.mu.
func (s *Store) sortRows(q *query.Query, rows []store.Row) error {
	if len(q.Sort) == 0 {
		return nil
	}
	sc := s.schema.Load()

	type kspec struct {
		key  *store.Key
		desc bool
	}
	specs := make([]kspec, 0, len(q.Sort))
	for _, sk := range q.Sort {
		k, err := store.ResolveSort(sc, q, sk.Field)
		if err != nil {
			return err
		}
		specs = append(specs, kspec{key: k, desc: sk.Desc})
	}

	// значения ключей считаем один раз
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = make([]any, len(specs))
		for j, sp := range specs {
			vals[i][j] = s.valueAt(r, sp.key)
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, sp := range specs {
			if c := cmpNulls(vals[idx[a]][j], vals[idx[b]][j], q.Nulls, sp.desc); c != 0 {
				return c < 0
			}
		}
		return false
	})

	sorted := make([]store.Row, len(rows))
	for i, k := range idx {
		sorted[i] = rows[k]
	}
	copy(rows, sorted)
	return nil
}

// valueAt проходит по belongs_to цепочке ключа.
func (s *Store) valueAt(r store.Row, k *store.Key) any {
	cur := r
	for _, rel := range k.Chain {
		if rel.Kind != schema.BelongsTo {
			return nil
		}
		fk := cur[rel.LocalKey]
		if fk == nil {
			return nil
		}
		next, ok := s.data[rel.Target.FQN()][fmt.Sprint(fk)]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur[k.Column]
}

// cmpNulls: nulls first/last не зависят от направления.
func cmpNulls(a, b any, nullsPolicy string, desc bool) int {
	na, nb := a == nil, b == nil
	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == query.NullsFirst {
			if na {
				return -1
			}
			return +1
		}
		if na {
			return +1
		}
		return -1
	}

	rel, ok := store.Compare(a, b)
	if !ok {
		sa, sb := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case sa < sb:
			rel = -1
		case sa > sb:
			rel = +1
		}
	}
	if desc {
		rel = -rel
	}
	return rel
}
