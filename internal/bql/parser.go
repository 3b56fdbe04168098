package bql

import (
	"strings"
)

// NameLookup reports whether a named query exists. A nil NameLookup accepts
// every name, which is what the editor wants while a query is being typed.
type NameLookup func(name string) bool

// NamesOf returns a NameLookup backed by a name → tree map.
func NamesOf(names map[string]*RuleGroup) NameLookup {
	return func(name string) bool {
		_, ok := names[name]
		return ok
	}
}

// ParseOptions configures the parser.
type ParseOptions struct {
	Names    NameLookup
	MaxDepth int // 0 means DefaultMaxDepth
}

// Parse parses tokens into a rule tree. The result is always a group; a
// query consisting of a single comparison or reference is wrapped in an
// And group.
func Parse(tokens []Token, names NameLookup) (*RuleGroup, error) {
	return ParseWithOptions(tokens, ParseOptions{Names: names})
}

// ParseString tokenizes and parses input.
func ParseString(input string, names NameLookup) (*RuleGroup, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	return Parse(tokens, names)
}

// ParseWithOptions parses tokens using opts.
func ParseWithOptions(tokens []Token, opts ParseOptions) (*RuleGroup, error) {
	p := &parser{
		tokens: tokens,
		names:  opts.Names,
		guard:  newDepthGuard(opts.MaxDepth),
	}
	if n := len(tokens); n > 0 {
		last := tokens[n-1]
		p.end = last.Pos + len(last.Raw)
	}

	if len(tokens) == 0 {
		return nil, &SyntaxError{Pos: 0, Expected: "expression", Err: ErrEmptyQuery}
	}

	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		sentinel := ErrUnexpectedToken
		if tok.Kind == TokenParen && tok.Text == ")" {
			sentinel = ErrUnmatchedParen
		}
		return nil, &SyntaxError{Pos: tok.Pos, Expected: "'&', '|' or end of query", Found: tok.Raw, Err: sentinel}
	}

	if g, ok := n.(*RuleGroup); ok && !g.Negated && g.Name == "" {
		return g, nil
	}
	return NewGroup(And, n), nil
}

type parser struct {
	tokens []Token
	pos    int
	end    int
	names  NameLookup
	guard  *depthGuard
}

func (p *parser) peek() (Token, bool) {
	return p.peekAt(0)
}

func (p *parser) peekAt(offset int) (Token, bool) {
	i := p.pos + offset
	if i >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[i], true
}

func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *parser) atSymbol(sym string) bool {
	tok, ok := p.peek()
	return ok && tok.Kind == TokenSymbol && tok.Text == sym
}

func (p *parser) atParen(paren string) bool {
	tok, ok := p.peek()
	return ok && tok.Kind == TokenParen && tok.Text == paren
}

func (p *parser) atComma() bool {
	tok, ok := p.peek()
	return ok && tok.Kind == TokenComma
}

// errorHere builds a SyntaxError at the current token, or at end of input.
func (p *parser) errorHere(expected string) *SyntaxError {
	tok, ok := p.peek()
	if !ok {
		return &SyntaxError{Pos: p.end, Expected: expected, Err: ErrUnexpectedEOF}
	}
	return &SyntaxError{Pos: tok.Pos, Expected: expected, Found: tok.Raw, Err: ErrUnexpectedToken}
}

// parseOr parses OR expressions (lowest precedence).
func (p *parser) parseOr() (Node, error) {
	if err := p.guard.enter(); err != nil {
		return nil, err
	}
	defer p.guard.leave()

	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.atSymbol("|") {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	return combine(Or, operands), nil
}

// parseAnd parses AND expressions (binds tighter than OR).
func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.atSymbol("&") {
		p.advance()
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	return combine(And, operands), nil
}

func (p *parser) parseUnary() (Node, error) {
	if !p.atSymbol("!") {
		return p.parsePrimary()
	}
	p.advance()
	if err := p.guard.enter(); err != nil {
		return nil, err
	}
	defer p.guard.leave()

	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return negate(operand), nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.errorHere("field, named query or '('")
	}

	switch tok.Kind {
	case TokenParen:
		if tok.Text == ")" {
			return nil, &SyntaxError{Pos: tok.Pos, Expected: "field, named query or '('", Found: tok.Raw, Err: ErrUnmatchedParen}
		}
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.atParen(")") {
			serr := p.errorHere("')'")
			serr.Err = ErrUnmatchedParen
			return nil, serr
		}
		p.advance()
		return inner, nil

	case TokenWord, TokenQuoted:
		if p.operatorAt(1) {
			return p.parseComparison()
		}
		p.advance()
		if p.names != nil && !p.names(tok.Text) {
			return nil, &SyntaxError{Pos: tok.Pos, Expected: "comparison operator or known named query", Found: tok.Raw, Err: ErrUnexpectedToken}
		}
		return Ref(tok.Text), nil
	}

	return nil, p.errorHere("field, named query or '('")
}

// operatorAt reports whether the token at offset begins a comparison operator.
func (p *parser) operatorAt(offset int) bool {
	tok, ok := p.peekAt(offset)
	if !ok {
		return false
	}
	switch tok.Kind {
	case TokenOperator:
		return true
	case TokenWord:
		switch strings.ToLower(tok.Text) {
		case "contains", "like", "in", "exists", "is":
			return true
		}
	}
	return false
}

func (p *parser) parseComparison() (Node, error) {
	field := p.advance()
	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}
	value, err := p.parseValue(op)
	if err != nil {
		return nil, err
	}
	return Rule{Field: field.Text, Operator: op, Value: value}, nil
}

func (p *parser) parseOperator() (Operator, error) {
	tok := p.advance()
	text := strings.ToLower(tok.Text)
	if tok.Kind == TokenOperator {
		switch op := Operator(text); op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpNotContains, OpNotLike, OpNotIn, OpNotExists:
			return op, nil
		}
		return "", &SyntaxError{Pos: tok.Pos, Expected: "comparison operator", Found: tok.Raw, Err: ErrUnexpectedToken}
	}

	switch text {
	case "contains":
		return OpContains, nil
	case "like":
		return OpLike, nil
	case "in":
		return OpIn, nil
	case "exists":
		return OpExists, nil
	}

	// is null / is not null
	if p.wordAhead("null") {
		p.advance()
		return OpIsNull, nil
	}
	if p.wordAhead("not") {
		p.advance()
		if p.wordAhead("null") {
			p.advance()
			return OpIsNotNull, nil
		}
	}
	return "", p.errorHere("'null' or 'not null'")
}

func (p *parser) wordAhead(word string) bool {
	tok, ok := p.peek()
	return ok && tok.Kind == TokenWord && strings.EqualFold(tok.Text, word)
}

func (p *parser) parseValue(op Operator) (Value, error) {
	switch {
	case !op.TakesValue():
		return Value{}, nil
	case op.TakesList():
		return p.parseList()
	default:
		return p.parseScalar()
	}
}

// parseList parses "(v1, v2, ...)" or a bare "v1, v2, ...". A trailing comma
// is tolerated in both forms.
func (p *parser) parseList() (Value, error) {
	var items []Value

	if p.atParen("(") {
		p.advance()
		for !p.atParen(")") {
			item, err := p.parseScalar()
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
			if p.atComma() {
				p.advance()
				continue
			}
			if !p.atParen(")") {
				serr := p.errorHere("',' or ')'")
				if serr.Err == ErrUnexpectedEOF {
					serr.Err = ErrUnmatchedParen
				}
				return Value{}, serr
			}
		}
		if len(items) == 0 {
			return Value{}, p.errorHere("value")
		}
		p.advance()
		return List(items...), nil
	}

	for {
		item, err := p.parseScalar()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
		if !p.atComma() {
			break
		}
		p.advance()
		if !p.scalarAhead() {
			break
		}
	}
	return List(items...), nil
}

func (p *parser) scalarAhead() bool {
	tok, ok := p.peek()
	if !ok {
		return false
	}
	switch tok.Kind {
	case TokenWord, TokenQuoted, TokenRegex:
		return true
	}
	return false
}

// parseScalar parses a quoted string, a regex literal or a run of bare words.
func (p *parser) parseScalar() (Value, error) {
	tok, ok := p.peek()
	if !ok {
		return Value{}, p.errorHere("value")
	}

	switch tok.Kind {
	case TokenQuoted:
		p.advance()
		return QuotedString(tok.Text), nil
	case TokenRegex:
		p.advance()
		return Regex(tok.Text, tok.Flags), nil
	case TokenWord:
		words := []string{p.advance().Text}
		for {
			next, ok := p.peek()
			if !ok || next.Kind != TokenWord {
				break
			}
			words = append(words, p.advance().Text)
		}
		if len(words) > 1 {
			return String(strings.Join(words, " ")), nil
		}
		return bareValue(words[0]), nil
	}
	return Value{}, p.errorHere("value")
}

// bareValue types a single unquoted word.
func bareValue(word string) Value {
	switch strings.ToLower(word) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if n, ok := parseNumber(word); ok {
		return Value{Kind: ValueNumber, Num: n, Raw: word}
	}
	return String(word)
}

// combine joins operands under cond, splicing un-negated, unnamed operands
// that already use cond. A single operand is returned as is.
func combine(cond Condition, operands []Node) Node {
	if len(operands) == 1 {
		return operands[0]
	}
	group := &RuleGroup{Condition: cond}
	for _, op := range operands {
		if g, ok := op.(*RuleGroup); ok && g.Condition == cond && !g.Negated && g.Name == "" {
			group.Children = append(group.Children, g.Children...)
			continue
		}
		group.Children = append(group.Children, op)
	}
	return group
}

// negate applies '!' to n. An already negated node is wrapped so that both
// negations survive until compile time.
func negate(n Node) Node {
	switch v := n.(type) {
	case Rule:
		if !v.Negated {
			v.Negated = true
			return v
		}
	case *RuleGroup:
		if !v.Negated {
			v.Negated = true
			return v
		}
	}
	return &RuleGroup{Condition: And, Negated: true, Children: []Node{n}}
}
