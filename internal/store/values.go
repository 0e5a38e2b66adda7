package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"amethyst/internal/dsl"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	DateLayout,
}

// Coerce приводит значение к каноническому типу колонки:
//
//	string, enum, ref → string
//	int               → int64
//	float             → float64
//	money             → decimal.Decimal
//	bool              → bool
//	date              → string "2006-01-02"
//	datetime          → time.Time (UTC)
//
// Принимает и значения из фильтров (строки параметров), и то, что возвращают драйверы БД.
func Coerce(typ string, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch strings.ToLower(typ) {
	case dsl.TypeString, dsl.TypeEnum, dsl.TypeRef, "":
		switch t := v.(type) {
		case string:
			return t, nil
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		case fmt.Stringer:
			return t.String(), nil
		default:
			return fmt.Sprint(t), nil
		}

	case dsl.TypeInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case float64:
			if t != float64(int64(t)) {
				return nil, fmt.Errorf("must be integer")
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("must be integer")
			}
			return n, nil
		case decimal.Decimal:
			if !t.Equal(t.Truncate(0)) {
				return nil, fmt.Errorf("must be integer")
			}
			return t.IntPart(), nil
		}

	case dsl.TypeFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("must be float")
			}
			return f, nil
		case decimal.Decimal:
			f, _ := t.Float64()
			return f, nil
		}

	case dsl.TypeMoney:
		switch t := v.(type) {
		case decimal.Decimal:
			return t, nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("must be decimal")
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(t), nil
		case int64:
			return decimal.NewFromInt(t), nil
		case int:
			return decimal.NewFromInt(int64(t)), nil
		}

	case dsl.TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes", "y", "on", "t":
				return true, nil
			case "false", "0", "no", "n", "off", "f":
				return false, nil
			}
		}
		return nil, fmt.Errorf("must be boolean")

	case dsl.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t.Format(DateLayout), nil
		case string:
			s := strings.TrimSpace(t)
			if len(s) > len(DateLayout) && (s[len(DateLayout)] == 'T' || s[len(DateLayout)] == ' ') {
				s = s[:len(DateLayout)]
			}
			if _, err := time.Parse(DateLayout, s); err != nil {
				return nil, fmt.Errorf("must match YYYY-MM-DD")
			}
			return s, nil
		}
		return nil, fmt.Errorf("must match YYYY-MM-DD")

	case dsl.TypeDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range datetimeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC(), nil
				}
			}
		}
		return nil, fmt.Errorf("must be RFC3339 datetime")

	default:
		return v, nil
	}
	return nil, fmt.Errorf("must be %s", typ)
}

// Compare сравнивает канонические значения. ok=false: несравнимы (nil, разные типы).
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y), true
		case int64:
			return cmpOrdered(x, float64(y)), true
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal: равенство канонических значений; nil равен только nil.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
