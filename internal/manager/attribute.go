package manager

import (
	"amethyst/internal/dsl"
	"amethyst/internal/store"
)

// Attribute: колонка сущности. belongs_to атрибут называется по внешнему
// ключу и помнит имя отношения. has_many атрибутом не является.
type Attribute struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	RelationName string   `json:"relation,omitempty"`
	Enum         []string `json:"enum,omitempty"`
	Fillable     bool     `json:"fillable"`
	Required     bool     `json:"required"`
	Readonly     bool     `json:"readonly"`
	System       bool     `json:"system"`
}

func attributesOf(e *dsl.Entity) []Attribute {
	types := store.ColumnTypes(e)
	out := make([]Attribute, 0, len(dsl.SystemColumns)+len(e.Fields))
	for _, name := range dsl.SystemColumns {
		out = append(out, Attribute{Name: name, Type: types[name], Readonly: true, System: true})
	}
	for _, f := range e.Columns() {
		a := Attribute{
			Name:     f.Column(),
			Type:     f.Type,
			Enum:     f.Enum,
			Fillable: f.Fillable(),
			Required: f.Required(),
			Readonly: f.Readonly(),
		}
		if f.IsBelongsTo() {
			a.RelationName = f.Name
		}
		out = append(out, a)
	}
	return out
}

func (m *Manager) Attributes() []Attribute { return append([]Attribute(nil), m.attrs...) }

// AttributeNames: имена всех атрибутов, включая системные.
func (m *Manager) AttributeNames() []string {
	out := make([]string, 0, len(m.attrs))
	for _, a := range m.attrs {
		out = append(out, a.Name)
	}
	return out
}

func (m *Manager) Attribute(name string) (Attribute, bool) {
	for _, a := range m.attrs {
		if a.Name == name || (a.RelationName != "" && a.RelationName == name) {
			return a, true
		}
	}
	return Attribute{}, false
}

// Fillable: атрибуты для массового присвоения. Для belongs_to в набор
// попадают и имя отношения, и внешний ключ.
func (m *Manager) Fillable() []string {
	var out []string
	for _, a := range m.attrs {
		if !a.Fillable || a.System || a.Readonly {
			continue
		}
		if a.RelationName != "" {
			out = append(out, a.RelationName)
		}
		out = append(out, a.Name)
	}
	return out
}

// Queryable: ключи, допустимые в фильтре и сортировке: свои атрибуты
// (и имена belongs_to отношений) плюс path.attr для каждого включённого пути.
func (m *Manager) Queryable(includes []string) []string {
	out := queryableOf(m.entity, "")
	for _, path := range includes {
		r, err := m.schema.Resolve(m.FQN(), path)
		if err != nil {
			continue
		}
		out = append(out, queryableOf(r.Target, path+".")...)
	}
	return out
}

func queryableOf(e *dsl.Entity, prefix string) []string {
	var out []string
	for _, a := range attributesOf(e) {
		out = append(out, prefix+a.Name)
		if a.RelationName != "" && a.RelationName != a.Name {
			out = append(out, prefix+a.RelationName)
		}
	}
	return out
}
