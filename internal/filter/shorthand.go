package filter

import (
	"net/url"
	"sort"
	"strings"
)

// FromValues строит условие из коротких фильтров списка:
//
//	status=Draft
//	status__in=Draft,Booked
//	amount__gte=1000
//	author.name__sw=Le
//	deleted_at__null=true
//
// Служебные параметры (skip) не рассматриваются. Значения остаются строками,
// приведение к типу поля делает хранилище.
func FromValues(q url.Values, skip map[string]struct{}) (Node, error) {
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, ok := skip[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []Node
	for _, key := range keys {
		v := ""
		for _, raw := range q[key] {
			if strings.TrimSpace(raw) != "" {
				v = raw
				break
			}
		}
		if v == "" {
			continue
		}

		field, opName := key, "eq"
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, opName = key[:i], key[i+2:]
		}
		if strings.HasPrefix(v, "in:") {
			opName, v = "in", strings.TrimPrefix(v, "in:")
		}

		kn, err := shorthandKey(field)
		if err != nil {
			return nil, err
		}

		opName = strings.ToLower(opName)
		switch opName {
		case "null", "isnull":
			op := OpIsNull
			if strings.EqualFold(v, "false") || v == "0" {
				op = OpNotNull
			}
			conds = append(conds, &ComparisonNode{Op: op, Key: kn})
			continue
		case "in", "nin", "not_in":
			op := OpIn
			if opName != "in" {
				op = OpNotIn
			}
			n := &ComparisonNode{Op: op, Key: kn}
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					n.Values = append(n.Values, &ValueNode{Value: p})
				}
			}
			if len(n.Values) > 0 {
				conds = append(conds, n)
			}
			continue
		}

		op, ok := ParseOp(opName)
		if !ok {
			return nil, &SyntaxError{Msg: "unknown operator " + opName + " in " + key}
		}
		conds = append(conds, &ComparisonNode{Op: op, Key: kn, Values: []*ValueNode{{Value: v}}})
	}
	return And(conds...), nil
}

func shorthandKey(path string) (*KeyNode, error) {
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, &SyntaxError{Msg: "malformed key " + path}
		}
	}
	return &KeyNode{Path: path}, nil
}
