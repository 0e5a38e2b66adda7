package manager

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"amethyst/internal/dsl"
	"amethyst/internal/store"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок полей
const (
	ErrRequired     = "required"
	ErrTypeMismatch = "type_mismatch"
	ErrEnumInvalid  = "enum_invalid"
	ErrRefNotFound  = "ref_not_found"
	ErrReadOnly     = "readonly_field"
)

// ValidationError: набор ошибок полей (HTTP 400).
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Code)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// Assign: массовое присвоение. Остаются только ключи из fillable; ключ-имя
// belongs_to отношения принимает id или {"id": ...} и пишется в fk, явный fk
// важнее. Системные и readonly поля дают readonly_field, version пропускается
// (это подсказка для оптимистической блокировки).
func (m *Manager) Assign(payload map[string]any, fillable []string) (store.Row, []FieldError) {
	allowed := make(map[string]struct{}, len(fillable))
	for _, name := range fillable {
		allowed[name] = struct{}{}
	}

	data := store.Row{}
	var errs []FieldError
	for key, val := range payload {
		if key == "version" {
			continue
		}
		if dsl.IsSystemColumn(key) {
			errs = append(errs, ferr(ErrReadOnly, key, "Field '"+key+"' is read-only"))
			continue
		}
		f, ok := m.entity.Field(key)
		if !ok || !f.HasColumn() {
			continue
		}
		if f.Readonly() {
			errs = append(errs, ferr(ErrReadOnly, key, "Field '"+key+"' is read-only"))
			continue
		}
		if _, ok := allowed[key]; !ok {
			continue
		}
		if f.IsBelongsTo() && key == f.Name && f.Name != f.Column() {
			if _, explicit := payload[f.Column()]; explicit {
				if _, fkAllowed := allowed[f.Column()]; fkAllowed {
					continue
				}
			}
			id, ok := relationID(val)
			if !ok {
				errs = append(errs, ferr(ErrTypeMismatch, key, "Field '"+key+"' expected id or {\"id\": ...}"))
				continue
			}
			data[f.Column()] = id
			continue
		}
		data[f.Column()] = val
	}
	sortFieldErrors(errs)
	return data, errs
}

func relationID(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case string:
		return t, true
	case map[string]any:
		id, ok := t["id"].(string)
		return id, ok
	}
	return nil, false
}

// validate проверяет и нормализует data (колонки) под схему. create: ставятся
// default= и проверяются все required; при изменении: только переданные.
func (m *Manager) validate(ctx context.Context, data store.Row, create bool) []FieldError {
	var errs []FieldError

	if create {
		applyDefaults(m.entity, data)
	}

	for _, f := range m.entity.Columns() {
		col := f.Column()
		v, present := data[col]

		if f.Required() && (v == nil) && (create || present) {
			errs = append(errs, ferr(ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
			continue
		}
		if !present || v == nil {
			continue
		}

		norm, err := coerceStrict(f, v)
		if err != nil {
			code := ErrTypeMismatch
			if errors.Is(err, errEnum) {
				code = ErrEnumInvalid
			}
			errs = append(errs, ferr(code, f.Name, "Field '"+f.Name+"' "+err.Error()))
			continue
		}
		data[col] = norm

		if f.IsBelongsTo() {
			r, ok := m.schema.Relation(m.FQN(), f.Name)
			if !ok {
				continue
			}
			id, _ := norm.(string)
			exists, err := m.store.Exists(ctx, r.Target.FQN(), id)
			if err != nil || id == "" || !exists {
				errs = append(errs, ferr(ErrRefNotFound, f.Name, "Referenced '"+r.Target.FQN()+"' not found"))
			}
		}
	}
	sortFieldErrors(errs)
	return errs
}

var errEnum = errors.New("has a value that is not allowed")

// coerceStrict: строгая проверка JSON-значения: строки не становятся числами
// и наоборот, кроме int/float/money из строки.
func coerceStrict(f dsl.Field, v any) (any, error) {
	switch strings.ToLower(f.Type) {
	case dsl.TypeString, dsl.TypeRef:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be string")
		}
		return s, nil
	case dsl.TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be string")
		}
		for _, ev := range f.Enum {
			if s == ev {
				return s, nil
			}
		}
		return nil, errEnum
	case dsl.TypeInt:
		switch t := v.(type) {
		case float64, int64, int, string:
			return store.Coerce(f.Type, t)
		}
		return nil, fmt.Errorf("must be integer")
	case dsl.TypeFloat:
		switch t := v.(type) {
		case float64, int64, int, string:
			return store.Coerce(f.Type, t)
		}
		return nil, fmt.Errorf("must be float")
	case dsl.TypeMoney:
		switch t := v.(type) {
		case float64:
			return decimal.NewFromString(strconv.FormatFloat(t, 'f', -1, 64))
		case int64, int, string, decimal.Decimal:
			return store.Coerce(f.Type, t)
		}
		return nil, fmt.Errorf("must be decimal")
	case dsl.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected bool")
	case dsl.TypeDate:
		s, ok := v.(string)
		if !ok || len(s) != len(store.DateLayout) {
			return nil, fmt.Errorf("must match YYYY-MM-DD")
		}
		if _, err := time.Parse(store.DateLayout, s); err != nil {
			return nil, fmt.Errorf("invalid date")
		}
		return s, nil
	case dsl.TypeDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("must be RFC3339 datetime")
			}
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("must be RFC3339 datetime")
	}
	return v, nil
}

// applyDefaults подставляет default= для отсутствующих колонок. Некорректный
// default пропускается: его ловит lint.
func applyDefaults(e *dsl.Entity, data store.Row) {
	for _, f := range e.Columns() {
		def, ok := f.Options["default"]
		if !ok || strings.TrimSpace(def) == "" {
			continue
		}
		if _, exists := data[f.Column()]; exists {
			continue
		}
		if v, err := store.Coerce(f.Type, def); err == nil {
			data[f.Column()] = v
		}
	}
}

func sortFieldErrors(errs []FieldError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Code < errs[j].Code
	})
}
