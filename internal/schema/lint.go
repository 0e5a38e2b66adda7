package schema

import (
	"fmt"
	"strings"

	"amethyst/internal/dsl"
)

type Issue struct {
	Entity  string `json:"entity"` // FQN: module.Entity
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s: %s", i.Entity, i.Code, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %s", i.Entity, i.Field, i.Code, i.Message)
}

// Lint проверяет противоречия в объявлениях, включая has_many fk на стороне цели.
func (s *Schema) Lint() []Issue {
	issues := LintEntities(s.entities)
	for _, fqn := range s.names() {
		for _, r := range s.Relations(fqn) {
			if r.Kind != HasMany {
				continue
			}
			if _, ok := r.Target.Field(r.ForeignKey); !ok {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   r.Name,
					Code:    "has_many_fk_missing",
					Message: fmt.Sprintf("%s has no ref column %q", r.Target.FQN(), r.ForeignKey),
				})
			}
		}
	}
	return issues
}

// LintEntities: проверки, не требующие разрешённого графа. Годится до New,
// который на неизвестной цели ссылки падает.
func LintEntities(entities map[string]*dsl.Entity) []Issue {
	var issues []Issue
	tables := map[string]string{}
	raw := &Schema{entities: entities}

	for _, fqn := range raw.names() {
		e := entities[fqn]

		if other, ok := tables[e.TableName()]; ok {
			issues = append(issues, Issue{
				Entity:  fqn,
				Code:    "table_collision",
				Message: fmt.Sprintf("table %q is also used by %s", e.TableName(), other),
			})
		} else {
			tables[e.TableName()] = fqn
		}

		cols := map[string]string{}
		for _, c := range dsl.SystemColumns {
			cols[c] = "(system)"
		}
		for _, f := range e.Fields {
			if f.HasColumn() {
				if prev, dup := cols[f.Column()]; dup {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "duplicate_column",
						Message: fmt.Sprintf("column %q clashes with %s", f.Column(), prev),
					})
				} else {
					cols[f.Column()] = f.Name
				}
			}

			if od := strings.TrimSpace(strings.ToLower(f.Options["on_delete"])); od != "" {
				switch od {
				case "restrict", "set_null":
				default:
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "on_delete_unknown",
						Message: fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null)", od),
					})
				}
				if f.IsBelongsTo() && f.Required() && od == "set_null" {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "required_conflicts_on_delete",
						Message: "required ref cannot have on_delete=set_null; use restrict (or make field optional)",
					})
				}
			}

			if f.IsRelation() {
				if strings.TrimSpace(f.RefTarget) == "" {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "ref_target_empty",
						Message: "relation field has empty target",
					})
				} else if _, ok := raw.resolveTarget(e.Module, f.RefTarget); !ok {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "ref_target_unknown",
						Message: fmt.Sprintf("unknown target %q", f.RefTarget),
					})
				}
			}
		}

		for _, group := range e.Constraints.Unique {
			for _, col := range group {
				if _, ok := cols[col]; !ok {
					issues = append(issues, Issue{
						Entity:  fqn,
						Code:    "unique_unknown_column",
						Message: fmt.Sprintf("unique(%s): no column %q", strings.Join(group, ", "), col),
					})
				}
			}
		}
	}
	return issues
}
