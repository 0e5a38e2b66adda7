package api

import (
	"time"

	"amethyst/internal/store"

	"github.com/shopspring/decimal"
)

// render: запись для JSON: время в RFC3339 (UTC), деньги строкой,
// включённые отношения рекурсивно.
func render(r store.Row) map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = renderValue(v)
	}
	return out
}

func renderValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return t.StringFixed(2)
	case store.Row:
		if t == nil {
			return nil
		}
		return render(t)
	case []store.Row:
		list := make([]map[string]any, 0, len(t))
		for _, r := range t {
			list = append(list, render(r))
		}
		return list
	}
	return v
}
