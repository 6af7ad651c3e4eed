package analyzer

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL

	TOKEN_IDENT  // table, `db`.`table`, "col"
	TOKEN_NUMBER // 123, 45.67
	TOKEN_STRING // 'hello'

	TOKEN_OPERATOR  // + - * / % = < > etc.
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_LBRACKET  // [
	TOKEN_RBRACKET  // ]

	// Keywords (alphabetical)
	TOKEN_ALTER
	TOKEN_AS
	TOKEN_CREATE
	TOKEN_EXISTS
	TOKEN_EXTERNAL
	TOKEN_FROM
	TOKEN_IF
	TOKEN_IN
	TOKEN_INSERT
	TOKEN_INTO
	TOKEN_JOIN
	TOKEN_NOT
	TOKEN_ON
	TOKEN_OVERWRITE
	TOKEN_PARTITION
	TOKEN_SELECT
	TOKEN_TABLE
	TOKEN_UPSERT
	TOKEN_USING
	TOKEN_VALUES
	TOKEN_VIEW
	TOKEN_WHERE
	TOKEN_WITH
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	// Quoted is set for identifiers written with backticks or double quotes.
	Quoted bool
}

// Position represents a location in the statement text.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

var keywords = map[string]TokenType{
	"alter":     TOKEN_ALTER,
	"as":        TOKEN_AS,
	"create":    TOKEN_CREATE,
	"exists":    TOKEN_EXISTS,
	"external":  TOKEN_EXTERNAL,
	"from":      TOKEN_FROM,
	"if":        TOKEN_IF,
	"in":        TOKEN_IN,
	"insert":    TOKEN_INSERT,
	"into":      TOKEN_INTO,
	"join":      TOKEN_JOIN,
	"not":       TOKEN_NOT,
	"on":        TOKEN_ON,
	"overwrite": TOKEN_OVERWRITE,
	"partition": TOKEN_PARTITION,
	"select":    TOKEN_SELECT,
	"table":     TOKEN_TABLE,
	"upsert":    TOKEN_UPSERT,
	"using":     TOKEN_USING,
	"values":    TOKEN_VALUES,
	"view":      TOKEN_VIEW,
	"where":     TOKEN_WHERE,
	"with":      TOKEN_WITH,
}

// aliasStopWords are bare words that may follow a table reference without being its alias.
var aliasStopWords = map[string]bool{
	"left": true, "right": true, "full": true, "inner": true, "outer": true, "cross": true,
	"semi": true, "anti": true, "group": true, "order": true, "having": true, "limit": true,
	"offset": true, "union": true, "intersect": true, "except": true, "tablesample": true,
	"window": true, "lateral": true, "straight_join": true, "natural": true,
}

// LookupIdent returns the keyword token type for a lower-cased word, or TOKEN_IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}

// IsKeyword reports whether the token is a reserved word of the analyzer.
func (t Token) IsKeyword() bool {
	return t.Type >= TOKEN_ALTER
}
