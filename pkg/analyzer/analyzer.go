// Package analyzer extracts table-level lineage from Impala and Hive statements.
//
// The analyzer works on the token stream rather than a full grammar: it finds the
// tables a statement writes (INSERT, UPSERT, CREATE TABLE AS SELECT, CREATE/ALTER VIEW)
// and the tables it reads (every FROM and JOIN reference, minus common table
// expressions). Identifiers are returned lower-cased, qualified as database.table
// when the statement qualifies them.
package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedStatement is returned for empty text or unbalanced parentheses.
	ErrMalformedStatement = errors.New("malformed statement")
	// ErrUnsupportedStatement is returned for statements without table lineage,
	// such as DDL, COMPUTE STATS or REFRESH.
	ErrUnsupportedStatement = errors.New("unsupported statement")
)

// StatementKind classifies an analyzed statement.
type StatementKind string

// Statement kinds.
const (
	KindQuery      StatementKind = "query"
	KindInsert     StatementKind = "insert"
	KindCreateAs   StatementKind = "create_table_as_select"
	KindCreateView StatementKind = "create_view"
	KindAlterView  StatementKind = "alter_view"
)

// Result holds the tables read and written by one statement.
type Result struct {
	Kind    StatementKind
	Sources []string
	Targets []string
}

// Analyzer is the default statement analyzer. It is stateless and safe for concurrent use.
type Analyzer struct{}

// New creates an Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze extracts the source and target tables of the first statement in sql.
func (a *Analyzer) Analyze(sql string) (Result, error) {
	return Analyze(sql)
}

// Analyze extracts the source and target tables of the first statement in sql.
func Analyze(sql string) (Result, error) {
	toks, err := firstStatement(sql)
	if err != nil {
		return Result{}, err
	}

	p := &statement{toks: toks, ctes: make(map[string]bool)}
	p.collectCTEs()

	body := p.skipLeadingWith()
	var targets []string
	var kind StatementKind

	switch toks[body].Type {
	case TOKEN_SELECT, TOKEN_VALUES, TOKEN_LPAREN:
		kind = KindQuery
	case TOKEN_INSERT, TOKEN_UPSERT, TOKEN_FROM:
		// FROM-first covers the Hive multi-insert form.
		kind = KindInsert
		targets = p.insertTargets()
		if len(targets) == 0 {
			if toks[body].Type == TOKEN_FROM {
				return Result{}, fmt.Errorf("%w: FROM without INSERT at %s", ErrUnsupportedStatement, toks[body].Pos)
			}
			return Result{}, fmt.Errorf("%w: INSERT without target table at %s", ErrMalformedStatement, toks[body].Pos)
		}
	case TOKEN_CREATE:
		kind, targets, err = p.createTarget(body)
		if err != nil {
			return Result{}, err
		}
	case TOKEN_ALTER:
		kind, targets, err = p.alterViewTarget(body)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedStatement, strings.ToUpper(toks[body].Literal))
	}

	return Result{
		Kind:    kind,
		Sources: p.sources(),
		Targets: dedupe(targets),
	}, nil
}

// firstStatement tokenizes sql up to the first top-level semicolon and checks
// that parentheses are balanced.
func firstStatement(sql string) ([]Token, error) {
	l := NewLexer(sql)
	var toks []Token
	depth := 0
	for {
		tok := l.NextToken()
		if tok.Type == TOKEN_SEMICOLON && depth == 0 {
			if len(toks) == 0 {
				continue
			}
			break
		}
		if tok.Type == TOKEN_EOF {
			break
		}
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unexpected ')' at %s", ErrMalformedStatement, tok.Pos)
			}
		}
		toks = append(toks, tok)
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty statement", ErrMalformedStatement)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: %d unclosed '('", ErrMalformedStatement, depth)
	}
	// EOF sentinel so lookahead never runs off the slice.
	toks = append(toks, Token{Type: TOKEN_EOF})
	return toks, nil
}

type statement struct {
	toks []Token
	ctes map[string]bool
}

func (p *statement) at(i int) Token {
	if i < 0 || i >= len(p.toks) {
		return Token{Type: TOKEN_EOF}
	}
	return p.toks[i]
}

// isWord reports whether the token can be part of an object name.
func isWord(tok Token, afterDot bool) bool {
	switch tok.Type {
	case TOKEN_IDENT, TOKEN_NUMBER:
		return true
	}
	return afterDot && tok.IsKeyword()
}

// readName reads a dotted object name starting at i. It returns the lower-cased
// name, the number of tokens consumed and whether a name was found.
func (p *statement) readName(i int) (string, int, bool) {
	if !isWord(p.at(i), false) {
		return "", 0, false
	}
	parts := []string{strings.ToLower(p.at(i).Literal)}
	n := 1
	for p.at(i+n).Type == TOKEN_DOT && isWord(p.at(i+n+1), true) {
		parts = append(parts, strings.ToLower(p.at(i+n+1).Literal))
		n += 2
	}
	return strings.Join(parts, "."), n, true
}

// skipParens returns the index after the parenthesised group opening at i.
func (p *statement) skipParens(i int) int {
	depth := 0
	for j := i; j < len(p.toks); j++ {
		switch p.toks[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(p.toks)
}

// collectCTEs records every common table expression name declared anywhere in the statement.
func (p *statement) collectCTEs() {
	for i := 0; i < len(p.toks); i++ {
		if p.toks[i].Type == TOKEN_WITH {
			p.parseWithList(i + 1)
		}
	}
}

// parseWithList parses "name [(cols)] AS (...) [, ...]" starting at i and returns
// the index of the first token after the list.
func (p *statement) parseWithList(i int) int {
	for {
		name, n, ok := p.readName(i)
		if !ok {
			return i
		}
		j := i + n
		if p.at(j).Type == TOKEN_LPAREN {
			j = p.skipParens(j)
		}
		if p.at(j).Type != TOKEN_AS || p.at(j+1).Type != TOKEN_LPAREN {
			return i
		}
		p.ctes[name] = true
		j = p.skipParens(j + 1)
		if p.at(j).Type != TOKEN_COMMA {
			return j
		}
		i = j + 1
	}
}

// skipLeadingWith returns the index where the statement body starts.
func (p *statement) skipLeadingWith() int {
	if p.at(0).Type != TOKEN_WITH {
		return 0
	}
	return p.parseWithList(1)
}

// insertTargets returns the tables of every top-level INSERT or UPSERT clause.
func (p *statement) insertTargets() []string {
	var targets []string
	depth := 0
	for i := 0; i < len(p.toks); i++ {
		switch p.toks[i].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_INSERT, TOKEN_UPSERT:
			if depth != 0 {
				continue
			}
			j := i + 1
			if p.at(j).Type != TOKEN_INTO && p.at(j).Type != TOKEN_OVERWRITE {
				continue
			}
			j++
			if p.at(j).Type == TOKEN_TABLE {
				j++
			}
			if name, _, ok := p.readName(j); ok {
				targets = append(targets, name)
			}
		}
	}
	return targets
}

// createTarget handles CREATE TABLE ... AS and CREATE VIEW.
func (p *statement) createTarget(i int) (StatementKind, []string, error) {
	j := i + 1
	if p.at(j).Type == TOKEN_EXTERNAL {
		j++
	}
	if strings.EqualFold(p.at(j).Literal, "or") && strings.EqualFold(p.at(j+1).Literal, "replace") {
		j += 2
	}

	var kind StatementKind
	switch p.at(j).Type {
	case TOKEN_TABLE:
		kind = KindCreateAs
	case TOKEN_VIEW:
		kind = KindCreateView
	default:
		return "", nil, fmt.Errorf("%w: CREATE %s", ErrUnsupportedStatement, strings.ToUpper(p.at(j).Literal))
	}
	j++
	if p.at(j).Type == TOKEN_IF && p.at(j+1).Type == TOKEN_NOT && p.at(j+2).Type == TOKEN_EXISTS {
		j += 3
	}

	name, n, ok := p.readName(j)
	if !ok {
		return "", nil, fmt.Errorf("%w: CREATE without object name at %s", ErrMalformedStatement, p.at(j).Pos)
	}
	if !p.hasTopLevelQueryAfter(j + n) {
		return "", nil, fmt.Errorf("%w: CREATE %s without AS query", ErrUnsupportedStatement, name)
	}
	return kind, []string{name}, nil
}

// alterViewTarget handles ALTER VIEW ... AS.
func (p *statement) alterViewTarget(i int) (StatementKind, []string, error) {
	if p.at(i+1).Type != TOKEN_VIEW {
		return "", nil, fmt.Errorf("%w: ALTER %s", ErrUnsupportedStatement, strings.ToUpper(p.at(i+1).Literal))
	}
	name, n, ok := p.readName(i + 2)
	if !ok {
		return "", nil, fmt.Errorf("%w: ALTER VIEW without name", ErrMalformedStatement)
	}
	if !p.hasTopLevelQueryAfter(i + 2 + n) {
		return "", nil, fmt.Errorf("%w: ALTER VIEW %s without AS query", ErrUnsupportedStatement, name)
	}
	return KindAlterView, []string{name}, nil
}

// hasTopLevelQueryAfter reports whether an "AS SELECT", "AS WITH" or "AS (" appears
// at parenthesis depth zero from index i on.
func (p *statement) hasTopLevelQueryAfter(i int) bool {
	depth := 0
	for j := i; j < len(p.toks); j++ {
		switch p.toks[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_AS:
			if depth != 0 {
				continue
			}
			switch p.at(j + 1).Type {
			case TOKEN_SELECT, TOKEN_WITH, TOKEN_LPAREN, TOKEN_VALUES:
				return true
			}
		}
	}
	return false
}

// frame tracks the parenthesis nesting while scanning for table references.
type frame struct {
	function bool // opened by a function call, e.g. extract(year from ts)
	fromList bool // currently inside a FROM list, commas introduce tables
}

// sources scans the whole statement for table references after FROM, JOIN and
// commas of a FROM list.
func (p *statement) sources() []string {
	var out []string
	stack := []frame{{}}

	for i := 0; i < len(p.toks); i++ {
		tok := p.toks[i]
		top := &stack[len(stack)-1]

		switch tok.Type {
		case TOKEN_LPAREN:
			prev := p.at(i - 1)
			stack = append(stack, frame{function: prev.Type == TOKEN_IDENT && !prev.Quoted})
		case TOKEN_RPAREN:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case TOKEN_FROM:
			if top.function {
				continue
			}
			top.fromList = true
			if name, ok := p.tableRef(i + 1); ok {
				out = append(out, name)
			}
		case TOKEN_JOIN:
			top.fromList = true
			if name, ok := p.tableRef(i + 1); ok {
				out = append(out, name)
			}
		case TOKEN_COMMA:
			if top.fromList {
				if name, ok := p.tableRef(i + 1); ok {
					out = append(out, name)
				}
			}
		case TOKEN_SELECT, TOKEN_WHERE, TOKEN_ON, TOKEN_USING, TOKEN_VALUES,
			TOKEN_INSERT, TOKEN_UPSERT, TOKEN_PARTITION:
			top.fromList = false
		case TOKEN_IDENT:
			if !tok.Quoted && aliasStopWords[strings.ToLower(tok.Literal)] && !isJoinModifier(tok) {
				top.fromList = false
			}
		}
	}

	filtered := out[:0]
	for _, name := range out {
		if p.ctes[name] {
			continue
		}
		filtered = append(filtered, name)
	}
	return dedupe(filtered)
}

// isJoinModifier reports whether the word only qualifies a following JOIN.
func isJoinModifier(tok Token) bool {
	switch strings.ToLower(tok.Literal) {
	case "left", "right", "full", "inner", "outer", "cross", "semi", "anti", "natural", "lateral", "straight_join":
		return true
	}
	return false
}

// tableRef reads a table name at i. Subqueries and function calls are not tables.
func (p *statement) tableRef(i int) (string, bool) {
	if p.at(i).Type == TOKEN_IDENT && !p.at(i).Quoted && strings.EqualFold(p.at(i).Literal, "lateral") {
		return "", false
	}
	name, n, ok := p.readName(i)
	if !ok {
		return "", false
	}
	if p.at(i+n).Type == TOKEN_LPAREN {
		return "", false
	}
	return name, true
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
