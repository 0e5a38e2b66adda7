package store

import "time"

// Row: запись: колонка → значение.
type Row map[string]any

func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

func (r Row) Version() int64 {
	v, _ := r["version"].(int64)
	return v
}

func (r Row) UpdatedAt() time.Time {
	t, _ := r["updated_at"].(time.Time)
	return t
}

// Clone: поверхностная копия; вложенные отношения не копируются.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
