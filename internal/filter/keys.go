package filter

import "fmt"

// Walk обходит дерево в глубину, слева направо. fn=false: не спускаться в детей.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// Keys собирает все ключи дерева в порядке появления, с повторами.
func Keys(n Node) []string {
	var out []string
	Walk(n, func(n Node) bool {
		if k, ok := n.(*KeyNode); ok {
			out = append(out, k.Path)
		}
		return true
	})
	return out
}

// RelationPaths: отношения, задействованные фильтром: ключи без последнего
// сегмента, без пустых, без повторов.
func RelationPaths(n Node) []string {
	return RelationsOf(Keys(n))
}

// RelationsOf: то же для произвольного списка ключей (например, ключей сортировки).
func RelationsOf(keys []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, k := range keys {
		rel := (&KeyNode{Path: k}).Relation()
		if rel == "" {
			continue
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	return out
}

// KeyError: ключ вне допустимого набора.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("unknown filter key %q", e.Key)
}

// Validate проверяет, что все ключи входят в allowed.
func Validate(n Node, allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, k := range Keys(n) {
		if _, ok := set[k]; !ok {
			return &KeyError{Key: k}
		}
	}
	return nil
}

// And объединяет условия; nil пропускаются.
func And(nodes ...Node) Node {
	var operands []Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if l, ok := n.(*LogicNode); ok && l.Op == LogicAnd {
			operands = append(operands, l.Operands...)
			continue
		}
		operands = append(operands, n)
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return &LogicNode{Op: LogicAnd, Operands: operands}
}

func Eq(key string, value any) Node {
	return Compare(key, OpEq, value)
}

// Compare строит сравнение; для in/not_in значения: элементы списка.
func Compare(key string, op Op, values ...any) Node {
	n := &ComparisonNode{Op: op, Key: &KeyNode{Path: key}}
	for _, v := range values {
		n.Values = append(n.Values, &ValueNode{Value: v})
	}
	return n
}
