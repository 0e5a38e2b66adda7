package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"amethyst/internal/cache"
	"amethyst/internal/dsl"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"
)

type RelationKind string

const (
	BelongsTo RelationKind = "belongs_to"
	HasMany   RelationKind = "has_many"
)

// Relation: ребро графа сущностей.
//
// belongs_to: From.LocalKey (fk) → Target.id
// has_many:   From.id → Target.ForeignKey (fk)
type Relation struct {
	Name       string
	Kind       RelationKind
	From       *dsl.Entity
	Target     *dsl.Entity
	LocalKey   string
	ForeignKey string
}

func (r *Relation) ToMany() bool { return r.Kind == HasMany }

// OnDelete: политика belongs_to при удалении цели: restrict (по умолчанию) или set_null.
func (r *Relation) OnDelete() string {
	f, _ := r.From.Field(r.Name)
	if od := strings.ToLower(strings.TrimSpace(f.Options["on_delete"])); od != "" {
		return od
	}
	return "restrict"
}

// Incoming: belongs_to отношения других сущностей, указывающие на fqn.
func (s *Schema) Incoming(fqn string) []*Relation {
	var out []*Relation
	for _, from := range s.names() {
		for _, r := range s.Relations(from) {
			if r.Kind == BelongsTo && r.Target.FQN() == fqn {
				out = append(out, r)
			}
		}
	}
	return out
}

// ResolvedRelation: отношение по вложенному пути ("author.books").
type ResolvedRelation struct {
	Path     string
	Relation *Relation
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Schema: неизменяемый снимок схемы. При перезагрузке создаётся новый.
type Schema struct {
	entities  map[string]*dsl.Entity
	relations map[string]map[string]*Relation // FQN -> name -> relation

	cache *cache.Cache
	group singleflight.Group
}

// New связывает ref/has_many с целевыми сущностями.
func New(entities map[string]*dsl.Entity, opts Options) (*Schema, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 4096
	}
	s := &Schema{
		entities:  entities,
		relations: make(map[string]map[string]*Relation, len(entities)),
		cache:     cache.New(opts.CacheSize, opts.CacheTTL),
	}

	for _, fqn := range s.names() {
		e := entities[fqn]
		rels := map[string]*Relation{}
		for _, f := range e.Fields {
			if !f.IsRelation() {
				continue
			}
			targetFQN, ok := s.resolveTarget(e.Module, f.RefTarget)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown relation target %q", fqn, f.Name, f.RefTarget)
			}
			target := entities[targetFQN]
			r := &Relation{Name: f.Name, From: e, Target: target}
			if f.IsBelongsTo() {
				r.Kind = BelongsTo
				r.LocalKey = f.Column()
				r.ForeignKey = "id"
			} else {
				r.Kind = HasMany
				r.LocalKey = "id"
				r.ForeignKey = strings.TrimSpace(f.Options["fk"])
				if r.ForeignKey == "" {
					r.ForeignKey = inflect.Underscore(e.Name) + "_id"
				}
			}
			rels[f.Name] = r
		}
		s.relations[fqn] = rels
	}
	return s, nil
}

func (s *Schema) names() []string {
	keys := make([]string, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entities: сущности в стабильном порядке.
func (s *Schema) Entities() []*dsl.Entity {
	out := make([]*dsl.Entity, 0, len(s.entities))
	for _, k := range s.names() {
		out = append(out, s.entities[k])
	}
	return out
}

func (s *Schema) Entity(fqn string) (*dsl.Entity, bool) {
	e, ok := s.entities[fqn]
	return e, ok
}

func (s *Schema) Relation(fqn, name string) (*Relation, bool) {
	r, ok := s.relations[fqn][name]
	return r, ok
}

// Relations: отношения сущности, отсортированные по имени.
func (s *Schema) Relations(fqn string) []*Relation {
	rels := s.relations[fqn]
	out := make([]*Relation, 0, len(rels))
	for _, r := range rels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsValidNestedRelation: каждый сегмент пути: объявленное отношение
// сущности, до которой дошли на предыдущем шаге. Результат кэшируется.
func (s *Schema) IsValidNestedRelation(fqn, path string) bool {
	key := "valid|" + fqn + "|" + path
	if v, ok := s.cache.Get(key); ok {
		return v.(bool)
	}
	v, _, _ := s.group.Do(key, func() (any, error) {
		_, err := s.walk(fqn, path)
		ok := err == nil
		s.cache.Set(key, ok)
		return ok, nil
	})
	return v.(bool)
}

// ResolveRelations раскрывает пути вместе со всеми префиксами:
// ["author.books"] → author, author.books. Порядок: родители раньше детей.
func (s *Schema) ResolveRelations(fqn string, paths []string) ([]ResolvedRelation, error) {
	key := "resolve|" + fqn + "|" + strings.Join(paths, ",")
	if v, ok := s.cache.Get(key); ok {
		return v.([]ResolvedRelation), nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var out []ResolvedRelation
		seen := map[string]struct{}{}
		for _, p := range paths {
			chain, err := s.walk(fqn, p)
			if err != nil {
				return nil, err
			}
			for i, r := range chain {
				sub := strings.Join(strings.Split(p, ".")[:i+1], ".")
				if _, dup := seen[sub]; dup {
					continue
				}
				seen[sub] = struct{}{}
				out = append(out, ResolvedRelation{Path: sub, Relation: r})
			}
		}
		s.cache.Set(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ResolvedRelation), nil
}

// Resolve: отношение для одного вложенного пути.
func (s *Schema) Resolve(fqn, path string) (*Relation, error) {
	chain, err := s.walk(fqn, path)
	if err != nil {
		return nil, err
	}
	return chain[len(chain)-1], nil
}

func (s *Schema) walk(fqn, path string) ([]*Relation, error) {
	if path == "" {
		return nil, fmt.Errorf("empty relation path")
	}
	cur := fqn
	parts := strings.Split(path, ".")
	chain := make([]*Relation, 0, len(parts))
	for _, seg := range parts {
		r, ok := s.relations[cur][seg]
		if !ok {
			return nil, fmt.Errorf("%s: %q is not a relation (path %q)", cur, seg, path)
		}
		chain = append(chain, r)
		cur = r.Target.FQN()
	}
	return chain, nil
}

func (s *Schema) CacheMetrics() cache.Metrics { return s.cache.Metrics() }

// resolveTarget: "core.User" или "User" (сначала в своём модуле).
func (s *Schema) resolveTarget(module, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if i := strings.IndexByte(raw, '.'); i > 0 {
		return s.Normalize(raw[:i], raw[i+1:])
	}
	if fq, ok := s.Normalize(module, raw); ok {
		return fq, true
	}
	return s.Normalize("", raw)
}
