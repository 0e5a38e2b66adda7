package sqlstore

import (
	"fmt"
	"strings"

	"amethyst/internal/dsl"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/pkg/errors"
)

func uniqueName(table string, cols []string) string {
	return table + "_" + strings.Join(cols, "_") + "_uq"
}

func fkName(table, col string) string { return table + "_" + col + "_fk" }

func onDeleteSQL(r *schema.Relation) string {
	if r.OnDelete() == "set_null" {
		return "SET NULL"
	}
	return "RESTRICT"
}

// uniqueSets: уникальные наборы колонок сущности: одиночные unique и составные.
func uniqueSets(e *dsl.Entity) ([][]string, error) {
	var out [][]string
	for _, f := range e.Columns() {
		if f.Unique() {
			out = append(out, []string{f.Column()})
		}
	}
	for _, set := range e.Constraints.Unique {
		cols := make([]string, 0, len(set))
		for _, name := range set {
			col, _, ok := store.ColumnOf(e, name)
			if !ok {
				return nil, errors.Errorf("%s: unique(%s): unknown column %q", e.FQN(), strings.Join(set, ", "), name)
			}
			cols = append(cols, col)
		}
		if len(cols) > 0 {
			out = append(out, cols)
		}
	}
	return out, nil
}

// GenerateDDL возвращает карту ключ → один SQL-оператор. ApplyDDL выполняет
// их по порядку ключей: таблицы (100_), индексы (200_), внешние ключи (300_).
// В sqlite внешние ключи объявляются прямо в create table.
func GenerateDDL(d Dialect, s *schema.Schema) (map[string]string, error) {
	out := map[string]string{}
	for _, e := range s.Entities() {
		table := e.TableName()

		idType, _ := d.ColumnType(dsl.TypeString)
		intType, _ := d.ColumnType(dsl.TypeInt)
		tsType, _ := d.ColumnType(dsl.TypeDatetime)
		cols := []string{
			quote("id") + " " + idType + " PRIMARY KEY",
			quote("version") + " " + intType + " NOT NULL",
			quote("created_at") + " " + tsType + " NOT NULL",
			quote("updated_at") + " " + tsType + " NOT NULL",
		}

		for _, f := range e.Columns() {
			col := f.Column()
			typ, err := d.ColumnType(f.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", e.FQN(), f.Name)
			}
			def := quote(col) + " " + typ
			if f.Required() {
				def += " NOT NULL"
			}
			if dv := strings.TrimSpace(f.Options["default"]); dv != "" {
				v, err := store.Coerce(f.Type, dv)
				if err != nil {
					return nil, errors.Wrapf(err, "%s.%s: default", e.FQN(), f.Name)
				}
				def += " DEFAULT " + d.Literal(f.Type, v)
			}
			if len(f.Enum) > 0 {
				vals := make([]string, len(f.Enum))
				for i, v := range f.Enum {
					vals[i] = quoteLiteral(v)
				}
				def += fmt.Sprintf(" CHECK (%s IN (%s))", quote(col), strings.Join(vals, ", "))
			}
			if f.IsBelongsTo() {
				r, ok := s.Relation(e.FQN(), f.Name)
				if !ok {
					return nil, errors.Errorf("%s.%s: unresolved relation", e.FQN(), f.Name)
				}
				if d.InlineForeignKeys() {
					def += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE %s",
						quote(r.Target.TableName()), quote("id"), onDeleteSQL(r))
				} else {
					name := fkName(table, col)
					out["300_fk_"+name] = fmt.Sprintf(
						"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
						quote(table), quote(name), quote(col),
						quote(r.Target.TableName()), quote("id"), onDeleteSQL(r))
				}
				idx := table + "_" + col + "_idx"
				out["200_index_"+idx] = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
					quote(idx), quote(table), quote(col))
			}
			cols = append(cols, def)
		}

		out["100_table_"+table] = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
			quote(table), strings.Join(cols, ",\n  "))

		sets, err := uniqueSets(e)
		if err != nil {
			return nil, err
		}
		for _, set := range sets {
			name := uniqueName(table, set)
			quoted := make([]string, len(set))
			for i, c := range set {
				quoted[i] = quote(c)
			}
			out["200_index_"+name] = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote(name), quote(table), strings.Join(quoted, ", "))
		}
	}
	return out, nil
}
