package dsl

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// Типы полей
const (
	TypeString   = "string"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeMoney    = "money"
	TypeBool     = "bool"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeEnum     = "enum"
	TypeRef      = "ref"      // belongs-to: колонка <name>_id
	TypeHasMany  = "has_many" // обратная связь, колонки нет
)

// Entity описывает структуру сущности из DSL
type Entity struct {
	Module      string
	Name        string
	Table       string // пусто → множественное число от имени
	Fields      []Field
	Constraints Constraints
}

type Constraints struct {
	Unique [][]string
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, date, enum, ref, has_many и т.д.
	Enum      []string          // значения enum, если поле типа enum
	RefTarget string            // ref[...] / has_many[...]
	Options   map[string]string // required, unique, default, fillable, fk и прочие опции
}

// FQN возвращает "module.Name"
func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// TableName: имя таблицы: явное или underscore(plural(Name)).
func (e *Entity) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return inflect.Underscore(inflect.Pluralize(e.Name))
}

// Field ищет поле по имени DSL или по имени колонки.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range e.Fields {
		if f.IsBelongsTo() && f.Column() == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns: колонки сущности без системных, в порядке объявления.
func (e *Entity) Columns() []Field {
	out := make([]Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.HasColumn() {
			out = append(out, f)
		}
	}
	return out
}

func (f Field) IsBelongsTo() bool { return strings.EqualFold(f.Type, TypeRef) }
func (f Field) IsHasMany() bool   { return strings.EqualFold(f.Type, TypeHasMany) }
func (f Field) IsRelation() bool  { return f.IsBelongsTo() || f.IsHasMany() }
func (f Field) HasColumn() bool   { return !f.IsHasMany() }

// Column: имя колонки. Для ref это внешний ключ (fk= или <name>_id).
func (f Field) Column() string {
	if f.IsBelongsTo() {
		if fk := strings.TrimSpace(f.Options["fk"]); fk != "" {
			return fk
		}
		return f.Name + "_id"
	}
	return f.Name
}

func (f Field) Flag(name string) bool {
	if f.Options == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(f.Options[name]), "true")
}

func (f Field) Required() bool { return f.Flag("required") }
func (f Field) Unique() bool   { return f.Flag("unique") }
func (f Field) Readonly() bool { return f.Flag("readonly") }

// Fillable: поле явно разрешено для массового присвоения.
func (f Field) Fillable() bool {
	return f.Flag("fillable") && !f.Readonly() && !f.IsHasMany()
}

// SystemColumns: служебные колонки каждой таблицы.
var SystemColumns = []string{"id", "version", "created_at", "updated_at"}

func IsSystemColumn(name string) bool {
	for _, s := range SystemColumns {
		if s == name {
			return true
		}
	}
	return false
}
