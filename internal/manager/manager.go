// Package manager: CRUD над одной сущностью: атрибуты, массовое присвоение,
// валидация, выборки с жадной загрузкой и точки расширения saved/deleted.
package manager

import (
	"context"

	"amethyst/internal/auth"
	"amethyst/internal/dsl"
	"amethyst/internal/filter"
	"amethyst/internal/hooks"
	"amethyst/internal/query"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Manager struct {
	entity *dsl.Entity
	schema *schema.Schema
	store  store.Store
	hooks  *hooks.Registry
	agent  auth.Agent
	attrs  []Attribute
}

func New(s *schema.Schema, st store.Store, hk *hooks.Registry, fqn string) (*Manager, error) {
	e, ok := s.Entity(fqn)
	if !ok {
		return nil, errors.Errorf("unknown entity %s", fqn)
	}
	return &Manager{
		entity: e,
		schema: s,
		store:  st,
		hooks:  hk,
		agent:  auth.Guest,
		attrs:  attributesOf(e),
	}, nil
}

func (m *Manager) Entity() *dsl.Entity { return m.entity }
func (m *Manager) Schema() *schema.Schema { return m.schema }
func (m *Manager) FQN() string { return m.entity.FQN() }
func (m *Manager) Table() string { return m.entity.TableName() }
func (m *Manager) Agent() auth.Agent { return m.agent }
func (m *Manager) SetAgent(a auth.Agent) { m.agent = a }
func (m *Manager) NewQuery() *query.Query { return query.New(m.FQN()) }

// WithAgent: копия менеджера для одного запроса.
func (m *Manager) WithAgent(a auth.Agent) *Manager {
	c := *m
	c.agent = a
	return &c
}

// Find выполняет запрос и подгружает его include-пути.
func (m *Manager) Find(ctx context.Context, q *query.Query) ([]store.Row, error) {
	rows, err := m.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := store.EagerLoad(ctx, m.store, m.schema, m.FQN(), rows, q.Includes()); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *Manager) Count(ctx context.Context, q *query.Query) (int, error) {
	return m.store.Count(ctx, q)
}

func (m *Manager) FindByID(ctx context.Context, id string, include ...string) (store.Row, error) {
	q := m.NewQuery().Where(filter.Eq("id", id)).With(include...).Page(1, 0)
	rows, err := m.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(store.ErrNotFound, "%s %s", m.FQN(), id)
	}
	return rows[0], nil
}

// Create валидирует колонки data, сохраняет запись и вызывает saved.
func (m *Manager) Create(ctx context.Context, data store.Row) (store.Row, error) {
	data = data.Clone()
	if errs := m.validate(ctx, data, true); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	row, err := m.store.Insert(ctx, m.FQN(), data)
	if err != nil {
		return nil, err
	}
	m.log(ctx, "created", row)
	return row, m.fire(ctx, hooks.Saved, row)
}

// Update применяет частичные изменения. expectedVersion > 0: оптимистическая блокировка.
func (m *Manager) Update(ctx context.Context, id string, data store.Row, expectedVersion int64) (store.Row, error) {
	data = data.Clone()
	if errs := m.validate(ctx, data, false); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	row, err := m.store.Update(ctx, m.FQN(), id, data, expectedVersion)
	if err != nil {
		return nil, err
	}
	m.log(ctx, "updated", row)
	return row, m.fire(ctx, hooks.Saved, row)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	row, err := m.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, m.FQN(), id); err != nil {
		return err
	}
	m.log(ctx, "deleted", row)
	return m.fire(ctx, hooks.Deleted, row)
}

func (m *Manager) fire(ctx context.Context, point string, row store.Row) error {
	return m.hooks.Execute(ctx, point, &hooks.Context{Manager: m, Record: row})
}

func (m *Manager) log(ctx context.Context, action string, row store.Row) {
	zerolog.Ctx(ctx).Debug().
		Str("entity", m.FQN()).
		Str("id", row.ID()).
		Int64("version", row.Version()).
		Str("agent_id", m.agent.ID).
		Msg("record " + action)
}
