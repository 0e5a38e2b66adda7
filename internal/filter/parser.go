package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError: ошибка разбора выражения; Pos: смещение в байтах.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter syntax error at %d: %s", e.Pos, e.Msg)
}

// Parser: рекурсивный спуск по лексемам с одной лексемой просмотра.
//
//	expr       := or
//	or         := and (("or" | "||") and)*
//	and        := unary (("and" | "&&") unary)*
//	unary      := ("not" | "!") unary | primary
//	primary    := "(" expr ")" | comparison
//	comparison := key op value
//	            | key ["not"] "in" "(" value ("," value)* ")"
//	            | key "is" ["not"] "null"
type Parser struct {
	lexer   *Lexer
	current Token
	peek    Token
	lexErr  error
	end     int
}

func NewParser(lexer *Lexer) *Parser {
	p := &Parser{lexer: lexer, end: len(lexer.input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.current = p.peek
	if p.lexErr != nil {
		p.peek = Token{Type: TOKEN_EOF, Pos: p.end}
		return
	}
	tok, err := p.lexer.NextToken()
	if err != nil {
		p.lexErr = err
		p.peek = Token{Type: TOKEN_EOF, Pos: p.end}
		return
	}
	p.peek = tok
}

func (p *Parser) currentIs(t TokenType) bool { return p.current.Type == t }

func (p *Parser) currentWord(w string) bool {
	return p.current.Type == TOKEN_KEY && strings.EqualFold(p.current.Value, w)
}

func (p *Parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.current.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) unexpected(want string) error {
	if p.currentIs(TOKEN_EOF) {
		return p.errorf("expected %s, got end of input", want)
	}
	return p.errorf("expected %s, got %q", want, p.current.Value)
}

// Parse разбирает выражение. Пустая строка: нет условия (nil, nil).
func Parse(expr string) (Node, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	p := NewParser(NewLexer(expr))
	return p.Parse()
}

func (p *Parser) Parse() (Node, error) {
	node, err := p.parseOr()
	if p.lexErr != nil {
		return nil, p.lexErr
	}
	if err != nil {
		return nil, err
	}
	if !p.currentIs(TOKEN_EOF) {
		return nil, p.unexpected("end of input")
	}
	return node, nil
}

func (p *Parser) parseOr() (Node, error) {
	return p.parseLogic(LogicOr, TOKEN_OR, p.parseAnd)
}

func (p *Parser) parseAnd() (Node, error) {
	return p.parseLogic(LogicAnd, TOKEN_AND, p.parseUnary)
}

func (p *Parser) parseLogic(op LogicOp, sep TokenType, next func() (Node, error)) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	operands := []Node{left}
	for p.currentIs(sep) {
		p.nextToken()
		right, err := next()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &LogicNode{Op: op, Operands: operands}, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.currentIs(TOKEN_NOT) {
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotNode{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	switch {
	case p.currentIs(TOKEN_LPAREN):
		p.nextToken()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.currentIs(TOKEN_RPAREN) {
			return nil, p.unexpected(")")
		}
		p.nextToken()
		return node, nil
	case p.currentIs(TOKEN_KEY):
		return p.parseComparison()
	default:
		return nil, p.unexpected("condition")
	}
}

func (p *Parser) parseComparison() (Node, error) {
	key, err := p.parseKey()
	if err != nil {
		return nil, err
	}

	switch {
	case p.currentIs(TOKEN_OP):
		op := ops[p.current.Value]
		p.nextToken()
		return p.parseBinary(key, op)

	case p.currentWord("is"):
		p.nextToken()
		op := OpIsNull
		if p.currentIs(TOKEN_NOT) {
			op = OpNotNull
			p.nextToken()
		}
		if !p.currentWord("null") {
			return nil, p.unexpected("null")
		}
		p.nextToken()
		return &ComparisonNode{Op: op, Key: key}, nil

	case p.currentIs(TOKEN_NOT):
		p.nextToken()
		if !p.currentWord("in") {
			return nil, p.unexpected("in")
		}
		p.nextToken()
		return p.parseList(key, OpNotIn)

	case p.currentWord("in"):
		p.nextToken()
		return p.parseList(key, OpIn)

	case p.currentIs(TOKEN_KEY):
		op, ok := ParseOp(p.current.Value)
		if !ok || op == OpIn {
			return nil, p.errorf("unknown operator %q", p.current.Value)
		}
		p.nextToken()
		return p.parseBinary(key, op)
	}
	return nil, p.unexpected("operator")
}

func (p *Parser) parseKey() (*KeyNode, error) {
	path := p.current.Value
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, p.errorf("malformed key %q", path)
		}
	}
	p.nextToken()
	return &KeyNode{Path: path}, nil
}

func (p *Parser) parseBinary(key *KeyNode, op Op) (Node, error) {
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	// key = null → is null
	if v.Value == nil {
		switch op {
		case OpEq:
			return &ComparisonNode{Op: OpIsNull, Key: key}, nil
		case OpNeq:
			return &ComparisonNode{Op: OpNotNull, Key: key}, nil
		default:
			return nil, p.errorf("null is not comparable with %s", op)
		}
	}
	return &ComparisonNode{Op: op, Key: key, Values: []*ValueNode{v}}, nil
}

func (p *Parser) parseList(key *KeyNode, op Op) (Node, error) {
	if !p.currentIs(TOKEN_LPAREN) {
		return nil, p.unexpected("(")
	}
	p.nextToken()
	var values []*ValueNode
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.currentIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		if p.currentIs(TOKEN_RPAREN) {
			p.nextToken()
			return &ComparisonNode{Op: op, Key: key, Values: values}, nil
		}
		return nil, p.unexpected(", or )")
	}
}

func (p *Parser) parseValue() (*ValueNode, error) {
	tok := p.current
	switch tok.Type {
	case TOKEN_STRING:
		p.nextToken()
		return &ValueNode{Value: tok.Value}, nil
	case TOKEN_NUMBER:
		p.nextToken()
		if i, err := strconv.ParseInt(tok.Value, 10, 64); err == nil {
			return &ValueNode{Value: i}, nil
		}
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("bad number %q", tok.Value)}
		}
		return &ValueNode{Value: f}, nil
	case TOKEN_KEY:
		switch strings.ToLower(tok.Value) {
		case "true":
			p.nextToken()
			return &ValueNode{Value: true}, nil
		case "false":
			p.nextToken()
			return &ValueNode{Value: false}, nil
		case "null":
			p.nextToken()
			return &ValueNode{Value: nil}, nil
		}
	}
	return nil, p.unexpected("value")
}
