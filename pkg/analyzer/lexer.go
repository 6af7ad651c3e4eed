package analyzer

import (
	"strings"
	"unicode"
)

// Lexer tokenizes Impala/Hive SQL text.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int
	col     int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()

	switch l.ch {
	case 0:
		return Token{Type: TOKEN_EOF, Pos: pos}
	case '.':
		return l.single(TOKEN_DOT, pos)
	case ',':
		return l.single(TOKEN_COMMA, pos)
	case ';':
		return l.single(TOKEN_SEMICOLON, pos)
	case '(':
		return l.single(TOKEN_LPAREN, pos)
	case ')':
		return l.single(TOKEN_RPAREN, pos)
	case '[':
		return l.single(TOKEN_LBRACKET, pos)
	case ']':
		return l.single(TOKEN_RBRACKET, pos)
	case '\'':
		return Token{Type: TOKEN_STRING, Literal: l.readQuoted('\''), Pos: pos}
	case '"':
		return Token{Type: TOKEN_IDENT, Literal: l.readQuoted('"'), Pos: pos, Quoted: true}
	case '`':
		return Token{Type: TOKEN_IDENT, Literal: l.readQuoted('`'), Pos: pos, Quoted: true}
	case '+', '-', '*', '/', '%', '=', '<', '>', '!', '|', '&', '^', '~', ':', '?':
		return l.readOperator(pos)
	}

	if isLetter(l.ch) || l.ch == '_' {
		lit := l.readIdentifier()
		return Token{Type: LookupIdent(strings.ToLower(lit)), Literal: lit, Pos: pos}
	}
	if isDigit(l.ch) {
		return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
	}

	return l.single(TOKEN_ILLEGAL, pos)
}

func (l *Lexer) single(tokenType TokenType, pos Position) Token {
	tok := Token{Type: tokenType, Literal: string(l.ch), Pos: pos}
	l.readChar()
	return tok
}

func (l *Lexer) readOperator(pos Position) Token {
	start := l.pos
	for strings.IndexByte("+-*/%=<>!|&^~:?", l.ch) >= 0 {
		// Stop before a comment opener glued to an operator, e.g. "=--x".
		if (l.ch == '-' && l.peekChar() == '-') || (l.ch == '/' && l.peekChar() == '*') {
			if l.pos > start {
				break
			}
		}
		l.readChar()
	}
	return Token{Type: TOKEN_OPERATOR, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		// Block comments include optimizer hints such as /* +SHUFFLE */.
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
			continue
		}

		break
	}
}

// readQuoted reads a literal delimited by quote. A doubled quote is an escaped quote
// and a backslash escapes the next character inside string literals.
func (l *Lexer) readQuoted(quote byte) string {
	l.readChar() // opening quote

	var result strings.Builder
	for l.ch != 0 {
		if l.ch == '\\' && quote == '\'' && l.peekChar() != 0 {
			l.readChar()
			result.WriteByte(l.ch)
			l.readChar()
			continue
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // closing quote
			break
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String()
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	// Identifiers may start with digits in Hive, e.g. 2020_sales.
	for isLetter(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens up to and including EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	return tokens
}
