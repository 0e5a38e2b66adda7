// Package memory: хранилище в памяти процесса. Данные переживают
// перезагрузку схемы, но не рестарт.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"amethyst/internal/dsl"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
)

type Store struct {
	mu     sync.RWMutex
	data   map[string]map[string]store.Row // FQN -> id -> запись
	schema atomic.Pointer[schema.Schema]
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(s *schema.Schema) *Store {
	st := &Store{
		data: make(map[string]map[string]store.Row),
		now:  func() time.Time { return time.Now().UTC() },
	}
	st.schema.Store(s)
	return st
}

func (s *Store) SetSchema(sc *schema.Schema) { s.schema.Store(sc) }

func (s *Store) Close() error { return nil }

func (s *Store) entity(fqn string) (*dsl.Entity, error) {
	e, ok := s.schema.Load().Entity(fqn)
	if !ok {
		return nil, errors.Errorf("unknown entity %s", fqn)
	}
	return e, nil
}

// snapshot: копии живых записей сущности, упорядоченные по id. Вызывать под s.mu.
func (s *Store) snapshot(fqn string) []store.Row {
	recs := s.data[fqn]
	out := make([]store.Row, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Store) Select(ctx context.Context, q *query.Query) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	if err := s.sortRows(q, rows); err != nil {
		return nil, err
	}

	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return rows[start:end], nil
}

func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.filter(q)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// filter: записи под условием запроса. Под s.mu.
func (s *Store) filter(q *query.Query) ([]store.Row, error) {
	if _, err := s.entity(q.Entity); err != nil {
		return nil, err
	}
	ev, err := newEvaluator(s.schema.Load(), q)
	if err != nil {
		return nil, err
	}

	all := s.snapshot(q.Entity)
	if q.Filter == nil {
		return all, nil
	}
	out := all[:0]
	for _, r := range all {
		if ev.match(s.data, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) LoadBy(ctx context.Context, entity, column string, values []any) ([]store.Row, error) {
	if _, err := s.entity(entity); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		want[fmt.Sprint(v)] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Row
	for _, r := range s.snapshot(entity) {
		if v := r[column]; v != nil {
			if _, ok := want[fmt.Sprint(v)]; ok {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, entity, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[entity][id]
	return ok, nil
}

func (s *Store) Insert(ctx context.Context, entity string, data store.Row) (store.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := make(store.Row, len(data)+4)
	for _, f := range e.Columns() {
		rec[f.Column()] = data[f.Column()]
	}
	if err := s.checkConstraints(e, rec, ""); err != nil {
		return nil, err
	}

	now := s.now()
	id, _ := data["id"].(string)
	if id == "" {
		id = store.NewID()
	}
	rec["id"] = id
	rec["version"] = int64(1)
	rec["created_at"] = now
	rec["updated_at"] = now

	if s.data[entity] == nil {
		s.data[entity] = make(map[string]store.Row)
	}
	s.data[entity][id] = rec
	return rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, entity, id string, data store.Row, expectedVersion int64) (store.Row, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[entity][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if expectedVersion > 0 && cur.Version() != expectedVersion {
		return nil, errors.Wrapf(store.ErrVersionConflict, "expected version %d, current %d", expectedVersion, cur.Version())
	}

	next := cur.Clone()
	for _, f := range e.Columns() {
		if v, ok := data[f.Column()]; ok {
			next[f.Column()] = v
		}
	}
	if err := s.checkConstraints(e, next, id); err != nil {
		return nil, err
	}
	next["version"] = cur.Version() + 1
	next["updated_at"] = s.now()
	s.data[entity][id] = next
	return next.Clone(), nil
}

// Delete применяет on_delete входящих ссылок: restrict → ConstraintError,
// set_null → обнуляет fk и поднимает версию ссылающейся записи.
func (s *Store) Delete(ctx context.Context, entity, id string) error {
	sc := s.schema.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[entity][id]; !ok {
		return store.ErrNotFound
	}

	type pendingNull struct {
		row    store.Row
		column string
	}
	var toNull []pendingNull
	for _, r := range sc.Incoming(entity) {
		for _, child := range s.data[r.From.FQN()] {
			if fmt.Sprint(child[r.LocalKey]) != id {
				continue
			}
			if r.OnDelete() == "set_null" {
				toNull = append(toNull, pendingNull{row: child, column: r.LocalKey})
				continue
			}
			return &store.ConstraintError{
				Kind:   store.ConstraintReferenced,
				Entity: r.From.FQN(),
				Field:  r.Name,
				Detail: fmt.Sprintf("record is referenced by %s.%s", r.From.FQN(), r.Name),
			}
		}
	}

	now := s.now()
	for _, p := range toNull {
		p.row[p.column] = nil
		p.row["version"] = p.row.Version() + 1
		p.row["updated_at"] = now
	}
	delete(s.data[entity], id)
	return nil
}

// checkConstraints: unique (одиночные и составные) и существование целей ref. Под s.mu.
func (s *Store) checkConstraints(e *dsl.Entity, rec store.Row, selfID string) error {
	sc := s.schema.Load()
	fqn := e.FQN()

	for _, f := range e.Columns() {
		if f.Unique() && rec[f.Column()] != nil {
			if s.taken(fqn, []string{f.Column()}, rec, selfID) {
				return &store.ConstraintError{Kind: store.ConstraintUnique, Entity: fqn, Field: f.Name,
					Detail: fmt.Sprintf("field '%s' must be unique", f.Name)}
			}
		}
	}
	for _, set := range e.Constraints.Unique {
		cols := make([]string, 0, len(set))
		for _, name := range set {
			if col, _, ok := store.ColumnOf(e, name); ok {
				cols = append(cols, col)
			}
		}
		if len(cols) > 0 && s.taken(fqn, cols, rec, selfID) {
			return &store.ConstraintError{Kind: store.ConstraintUnique, Entity: fqn, Field: set[0],
				Detail: fmt.Sprintf("fields (%s) must be unique together", strings.Join(set, ", "))}
		}
	}

	for _, r := range sc.Relations(fqn) {
		if r.Kind != schema.BelongsTo || rec[r.LocalKey] == nil {
			continue
		}
		if _, ok := s.data[r.Target.FQN()][fmt.Sprint(rec[r.LocalKey])]; !ok {
			return &store.ConstraintError{Kind: store.ConstraintForeignKey, Entity: fqn, Field: r.Name,
				Detail: fmt.Sprintf("referenced %s not found", r.Target.FQN())}
		}
	}
	return nil
}

// taken: есть ли другая запись с теми же значениями cols. NULL не конфликтует.
func (s *Store) taken(fqn string, cols []string, rec store.Row, selfID string) bool {
	for _, c := range cols {
		if rec[c] == nil {
			return false
		}
	}
	for id, other := range s.data[fqn] {
		if id == selfID {
			continue
		}
		same := true
		for _, c := range cols {
			if !store.Equal(other[c], rec[c]) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}
