package store

import (
	"strings"

	"amethyst/internal/dsl"
	"amethyst/internal/filter"
	"amethyst/internal/query"
	"amethyst/internal/schema"

	"github.com/pkg/errors"
)

// Key: ключ фильтра или сортировки, разобранный по схеме.
type Key struct {
	Path   string // путь отношения; "": колонка самой сущности
	Chain  []*schema.Relation
	Entity *dsl.Entity // сущность-владелец колонки
	Column string
	Type   string
	ToMany bool // в цепочке есть has_many
}

// ResolveKey разбирает "author.country.code": сегменты до последнего являются
// отношениями, последний указывает колонку (имя поля, fk или системную).
func ResolveKey(s *schema.Schema, entity, key string) (*Key, error) {
	e, ok := s.Entity(entity)
	if !ok {
		return nil, errors.Errorf("unknown entity %s", entity)
	}
	k := &Key{Entity: e}
	attr := key
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		k.Path, attr = key[:i], key[i+1:]
		for _, seg := range strings.Split(k.Path, ".") {
			r, ok := s.Relation(k.Entity.FQN(), seg)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidFilter, "%s: %q is not a relation of %s", key, seg, k.Entity.FQN())
			}
			k.Chain = append(k.Chain, r)
			k.ToMany = k.ToMany || r.ToMany()
			k.Entity = r.Target
		}
	}
	col, typ, ok := ColumnOf(k.Entity, attr)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s: unknown attribute %q of %s", key, attr, k.Entity.FQN())
	}
	k.Column, k.Type = col, typ
	return k, nil
}

// ColumnOf: колонка и её тип по имени атрибута. Имя belongs_to отношения
// отображается на его fk; has_many колонки не имеет.
func ColumnOf(e *dsl.Entity, name string) (column, typ string, ok bool) {
	switch name {
	case "id":
		return "id", dsl.TypeString, true
	case "version":
		return "version", dsl.TypeInt, true
	case "created_at", "updated_at":
		return name, dsl.TypeDatetime, true
	}
	f, found := e.Field(name)
	if !found || !f.HasColumn() {
		return "", "", false
	}
	return f.Column(), f.Type, true
}

// ColumnTypes: тип каждой колонки сущности, включая системные.
func ColumnTypes(e *dsl.Entity) map[string]string {
	out := map[string]string{
		"id":         dsl.TypeString,
		"version":    dsl.TypeInt,
		"created_at": dsl.TypeDatetime,
		"updated_at": dsl.TypeDatetime,
	}
	for _, f := range e.Columns() {
		out[f.Column()] = f.Type
	}
	return out
}

// ResolveJoined: ResolveKey для запроса q: отношение ключа должно быть присоединено.
func ResolveJoined(s *schema.Schema, q *query.Query, key string) (*Key, error) {
	k, err := ResolveKey(s, q.Entity, key)
	if err != nil {
		return nil, err
	}
	if k.Path != "" && !q.IsJoined(k.Path) {
		return nil, errors.Wrapf(ErrRelationNotJoined, "%s", k.Path)
	}
	return k, nil
}

// ResolveSort: ключ сортировки: присоединённый и без has_many в пути.
func ResolveSort(s *schema.Schema, q *query.Query, key string) (*Key, error) {
	k, err := ResolveJoined(s, q, key)
	if err != nil {
		return nil, err
	}
	if k.ToMany {
		return nil, errors.Wrapf(ErrInvalidFilter, "cannot sort by to-many key %q", key)
	}
	return k, nil
}

func IsTextual(typ string) bool {
	switch typ {
	case dsl.TypeString, dsl.TypeEnum, dsl.TypeRef:
		return true
	}
	return false
}

// Operands приводит значения сравнения к типу колонки ключа.
func Operands(k *Key, cmp *filter.ComparisonNode) ([]any, error) {
	switch cmp.Op {
	case filter.OpContains, filter.OpStartsWith, filter.OpEndsWith:
		if !IsTextual(k.Type) {
			return nil, errors.Wrapf(ErrInvalidFilter, "%s: operator %s needs a text attribute", cmp.Key.Path, cmp.Op)
		}
	}
	out := make([]any, 0, len(cmp.Values))
	for _, v := range cmp.Values {
		cv, err := Coerce(k.Type, v.Value)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFilter, "%s: %v", cmp.Key.Path, err)
		}
		out = append(out, cv)
	}
	return out, nil
}
