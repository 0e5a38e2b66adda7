package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Op: оператор сравнения в канонической форме.
type Op string

const (
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpContains   Op = "ct"
	OpStartsWith Op = "sw"
	OpEndsWith   Op = "ew"
	OpIn         Op = "in"
	OpNotIn      Op = "not_in"
	OpIsNull     Op = "is_null"
	OpNotNull    Op = "not_null"
)

// ops: словесные и символьные написания операторов.
var ops = map[string]Op{
	"eq": OpEq, "=": OpEq, "==": OpEq,
	"neq": OpNeq, "ne": OpNeq, "!=": OpNeq, "<>": OpNeq,
	"gt": OpGt, ">": OpGt,
	"gte": OpGte, ">=": OpGte,
	"lt": OpLt, "<": OpLt,
	"lte": OpLte, "<=": OpLte,
	"ct": OpContains, "contains": OpContains,
	"sw": OpStartsWith,
	"ew": OpEndsWith,
	"in": OpIn,
}

// ParseOp переводит написание оператора в Op.
func ParseOp(s string) (Op, bool) {
	op, ok := ops[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// Node: узел дерева выражения.
type Node interface {
	Children() []Node
	String() string
}

// KeyNode: путь к атрибуту: "title", "author.name".
type KeyNode struct {
	Path string
}

func (n *KeyNode) Children() []Node { return nil }
func (n *KeyNode) String() string   { return n.Path }

// Segments: части пути.
func (n *KeyNode) Segments() []string { return strings.Split(n.Path, ".") }

// Relation: путь без последнего сегмента ("" для собственного атрибута).
func (n *KeyNode) Relation() string {
	if i := strings.LastIndexByte(n.Path, '.'); i >= 0 {
		return n.Path[:i]
	}
	return ""
}

// Attribute: последний сегмент.
func (n *KeyNode) Attribute() string {
	return n.Path[strings.LastIndexByte(n.Path, '.')+1:]
}

// ValueNode: литерал: string, int64, float64, bool или nil.
type ValueNode struct {
	Value any
}

func (n *ValueNode) Children() []Node { return nil }

func (n *ValueNode) String() string {
	switch v := n.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

type ComparisonNode struct {
	Op     Op
	Key    *KeyNode
	Values []*ValueNode // пусто для is [not] null; одно значение кроме in
}

func (n *ComparisonNode) Children() []Node {
	out := make([]Node, 0, 1+len(n.Values))
	out = append(out, n.Key)
	for _, v := range n.Values {
		out = append(out, v)
	}
	return out
}

// Value: первое значение или nil.
func (n *ComparisonNode) Value() any {
	if len(n.Values) == 0 {
		return nil
	}
	return n.Values[0].Value
}

func (n *ComparisonNode) String() string {
	switch n.Op {
	case OpIsNull:
		return n.Key.String() + " is null"
	case OpNotNull:
		return n.Key.String() + " is not null"
	case OpIn, OpNotIn:
		parts := make([]string, len(n.Values))
		for i, v := range n.Values {
			parts[i] = v.String()
		}
		kw := "in"
		if n.Op == OpNotIn {
			kw = "not in"
		}
		return fmt.Sprintf("%s %s (%s)", n.Key, kw, strings.Join(parts, ", "))
	}
	var v string
	if len(n.Values) > 0 {
		v = n.Values[0].String()
	}
	return fmt.Sprintf("%s %s %s", n.Key, n.Op, v)
}

type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

// LogicNode: and/or над двумя и более операндами.
type LogicNode struct {
	Op       LogicOp
	Operands []Node
}

func (n *LogicNode) Children() []Node { return n.Operands }

func (n *LogicNode) String() string {
	parts := make([]string, len(n.Operands))
	for i, o := range n.Operands {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, " "+string(n.Op)+" ") + ")"
}

type NotNode struct {
	Operand Node
}

func (n *NotNode) Children() []Node { return []Node{n.Operand} }
func (n *NotNode) String() string   { return "not " + n.Operand.String() }
