package filter

import (
	"fmt"
	"strings"
)

// TokenType: тип лексемы языка фильтров
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	TOKEN_KEY    // author.name
	TOKEN_STRING // 'x' / "x"
	TOKEN_NUMBER // 10, -2.5

	TOKEN_AND // and, &&
	TOKEN_OR  // or, ||
	TOKEN_NOT // not, !

	TOKEN_OP // = == != <> > >= < <=

	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_COMMA
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL: "ILLEGAL",
	TOKEN_EOF:     "end of input",
	TOKEN_KEY:     "identifier",
	TOKEN_STRING:  "string",
	TOKEN_NUMBER:  "number",
	TOKEN_AND:     "and",
	TOKEN_OR:      "or",
	TOKEN_NOT:     "not",
	TOKEN_OP:      "operator",
	TOKEN_LPAREN:  "(",
	TOKEN_RPAREN:  ")",
	TOKEN_COMMA:   ",",
}

var keywords = map[string]TokenType{
	"and": TOKEN_AND,
	"or":  TOKEN_OR,
	"not": TOKEN_NOT,
}

// Token: лексема; Pos: смещение в байтах от начала выражения.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%s) at %d", tokenNames[t.Type], t.Value, t.Pos)
}

// Lexer: посимвольный разбор выражения
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// NextToken возвращает следующую лексему или *SyntaxError.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()
	pos := l.position

	switch ch := l.ch; {
	case ch == 0:
		return Token{Type: TOKEN_EOF, Pos: pos}, nil
	case ch == '(':
		l.readChar()
		return Token{Type: TOKEN_LPAREN, Value: "(", Pos: pos}, nil
	case ch == ')':
		l.readChar()
		return Token{Type: TOKEN_RPAREN, Value: ")", Pos: pos}, nil
	case ch == ',':
		l.readChar()
		return Token{Type: TOKEN_COMMA, Value: ",", Pos: pos}, nil
	case ch == '&' && l.peekChar() == '&':
		l.readChar()
		l.readChar()
		return Token{Type: TOKEN_AND, Value: "&&", Pos: pos}, nil
	case ch == '|' && l.peekChar() == '|':
		l.readChar()
		l.readChar()
		return Token{Type: TOKEN_OR, Value: "||", Pos: pos}, nil
	case ch == '!':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TOKEN_OP, Value: "!=", Pos: pos}, nil
		}
		return Token{Type: TOKEN_NOT, Value: "!", Pos: pos}, nil
	case ch == '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TOKEN_OP, Value: "==", Pos: pos}, nil
		}
		return Token{Type: TOKEN_OP, Value: "=", Pos: pos}, nil
	case ch == '<':
		l.readChar()
		switch l.ch {
		case '=':
			l.readChar()
			return Token{Type: TOKEN_OP, Value: "<=", Pos: pos}, nil
		case '>':
			l.readChar()
			return Token{Type: TOKEN_OP, Value: "<>", Pos: pos}, nil
		}
		return Token{Type: TOKEN_OP, Value: "<", Pos: pos}, nil
	case ch == '>':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TOKEN_OP, Value: ">=", Pos: pos}, nil
		}
		return Token{Type: TOKEN_OP, Value: ">", Pos: pos}, nil
	case ch == '\'' || ch == '"':
		s, err := l.readString(ch)
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TOKEN_STRING, Value: s, Pos: pos}, nil
	case isDigit(ch) || (ch == '-' && isDigit(l.peekChar())):
		return Token{Type: TOKEN_NUMBER, Value: l.readNumber(), Pos: pos}, nil
	case isLetter(ch):
		word := l.readKey()
		if tt, ok := keywords[strings.ToLower(word)]; ok {
			return Token{Type: tt, Value: strings.ToLower(word), Pos: pos}, nil
		}
		return Token{Type: TOKEN_KEY, Value: word, Pos: pos}, nil
	default:
		l.readChar()
		return Token{}, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", ch)}
	}
}

// readKey читает идентификатор вместе с точками: author.books.title
func (l *Lexer) readKey() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '.' {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() string {
	position := l.position
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[position:l.position]
}

// readString читает строку в кавычках quote; \x экранирует любой символ.
func (l *Lexer) readString(quote byte) (string, error) {
	start := l.position
	l.readChar()
	var b strings.Builder
	for {
		switch l.ch {
		case 0:
			return "", &SyntaxError{Pos: start, Msg: "unterminated string"}
		case '\\':
			l.readChar()
			if l.ch == 0 {
				return "", &SyntaxError{Pos: start, Msg: "unterminated string"}
			}
			b.WriteByte(l.ch)
		case quote:
			l.readChar()
			return b.String(), nil
		default:
			b.WriteByte(l.ch)
		}
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }
