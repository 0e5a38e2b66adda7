package schema

import (
	"fmt"
	"strings"

	"amethyst/internal/dsl"
)

// LintError: схема с блокирующими замечаниями.
type LintError struct {
	Issues []Issue
}

func (e *LintError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, it := range e.Issues {
		parts = append(parts, it.String())
	}
	return fmt.Sprintf("schema has %d blocking issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

// Load читает каталог схем, прогоняет линтер и строит Schema.
func Load(dir string, opts Options) (*Schema, error) {
	entities, err := dsl.LoadAllEntities(dir)
	if err != nil {
		return nil, err
	}
	return Build(entities, opts)
}

// Build: New с проверками линтера до и после разрешения ссылок.
func Build(entities map[string]*dsl.Entity, opts Options) (*Schema, error) {
	if issues := LintEntities(entities); len(issues) > 0 {
		return nil, &LintError{Issues: issues}
	}
	s, err := New(entities, opts)
	if err != nil {
		return nil, err
	}
	if issues := s.Lint(); len(issues) > 0 {
		return nil, &LintError{Issues: issues}
	}
	return s, nil
}
