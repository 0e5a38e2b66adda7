package store

import (
	"context"
	"fmt"
	"strings"

	"amethyst/internal/schema"

	"github.com/pkg/errors"
)

// EagerLoad подгружает отношения paths к rows уровень за уровнем: одна
// выборка LoadBy на каждый путь. belongs_to кладётся под имя отношения как
// Row (или nil), has_many: как []Row.
func EagerLoad(ctx context.Context, st Store, s *schema.Schema, entity string, rows []Row, paths []string) error {
	if len(rows) == 0 || len(paths) == 0 {
		return nil
	}
	resolved, err := s.ResolveRelations(entity, paths)
	if err != nil {
		return errors.Wrap(err, "eager load")
	}

	levels := map[string][]Row{"": rows}
	for _, rr := range resolved {
		parentPath := ""
		if i := strings.LastIndexByte(rr.Path, '.'); i >= 0 {
			parentPath = rr.Path[:i]
		}
		parents := levels[parentPath]
		r := rr.Relation
		if len(parents) == 0 {
			levels[rr.Path] = nil
			continue
		}

		if r.Kind == schema.BelongsTo {
			keys := distinct(parents, r.LocalKey)
			var children []Row
			if len(keys) > 0 {
				children, err = st.LoadBy(ctx, r.Target.FQN(), "id", keys)
				if err != nil {
					return errors.Wrapf(err, "eager load %s", rr.Path)
				}
			}
			byID := make(map[string]Row, len(children))
			for _, c := range children {
				byID[c.ID()] = c
			}
			for _, p := range parents {
				if v := p[r.LocalKey]; v != nil {
					if c, ok := byID[fmt.Sprint(v)]; ok {
						p[r.Name] = c
						continue
					}
				}
				p[r.Name] = nil
			}
			levels[rr.Path] = children
			continue
		}

		keys := distinct(parents, "id")
		children, err := st.LoadBy(ctx, r.Target.FQN(), r.ForeignKey, keys)
		if err != nil {
			return errors.Wrapf(err, "eager load %s", rr.Path)
		}
		byParent := map[string][]Row{}
		for _, c := range children {
			fk := fmt.Sprint(c[r.ForeignKey])
			byParent[fk] = append(byParent[fk], c)
		}
		for _, p := range parents {
			list := byParent[p.ID()]
			if list == nil {
				list = []Row{}
			}
			p[r.Name] = list
		}
		levels[rr.Path] = children
	}
	return nil
}

func distinct(rows []Row, column string) []any {
	seen := map[string]struct{}{}
	var out []any
	for _, r := range rows {
		v := r[column]
		if v == nil {
			continue
		}
		k := fmt.Sprint(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
