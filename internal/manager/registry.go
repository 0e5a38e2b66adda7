package manager

import (
	"sort"
	"sync"

	"amethyst/internal/hooks"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
)

var ErrUnknownManager = errors.New("no manager registered for entity")

// Deps: зависимости, общие для всех менеджеров.
type Deps struct {
	Schema *schema.Schema
	Store  store.Store
	Hooks  *hooks.Registry
}

// Factory строит менеджер сущности entity.
type Factory func(entity string, d Deps) (*Manager, error)

// Default: менеджер без особенностей.
func Default(entity string, d Deps) (*Manager, error) {
	return New(d.Schema, d.Store, d.Hooks, entity)
}

// Registry: явный реестр фабрик менеджеров по FQN сущности.
type Registry struct {
	mu        sync.RWMutex
	deps      Deps
	factories map[string]Factory
}

func NewRegistry(d Deps) *Registry {
	return &Registry{deps: d, factories: map[string]Factory{}}
}

func (r *Registry) Register(entity string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entity] = f
}

// RegisterDefaults регистрирует Default для сущностей схемы, у которых ещё нет фабрики.
func (r *Registry) RegisterDefaults(s *schema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range s.Entities() {
		if _, ok := r.factories[e.FQN()]; !ok {
			r.factories[e.FQN()] = Default
		}
	}
}

// New: менеджер сущности; ErrUnknownManager, если фабрика не зарегистрирована.
func (r *Registry) New(entity string) (*Manager, error) {
	r.mu.RLock()
	f, ok := r.factories[entity]
	d := r.deps
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownManager, "%s", entity)
	}
	m, err := f(entity, d)
	if err != nil {
		return nil, errors.Wrapf(err, "manager %s", entity)
	}
	return m, nil
}

func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
