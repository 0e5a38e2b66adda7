package query

import (
	"fmt"

	"amethyst/internal/schema"
)

// Joiner добавляет в запрос соединения по вложенным отношениям.
type Joiner struct {
	schema *schema.Schema
}

func NewJoiner(s *schema.Schema) *Joiner { return &Joiner{schema: s} }

// JoinRelations присоединяет путь и все его префиксы: "author.country" →
// author, author.country. Родитель всегда раньше ребёнка.
func (j *Joiner) JoinRelations(q *Query, path string) error {
	resolved, err := j.schema.ResolveRelations(q.Entity, []string{path})
	if err != nil {
		return fmt.Errorf("join %q: %w", path, err)
	}
	for _, r := range resolved {
		q.Join(r.Path)
	}
	return nil
}
