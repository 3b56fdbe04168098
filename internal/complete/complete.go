// Package complete works out what kind of BQL token the cursor is on and
// what could be typed there. It only tokenizes the input; it never parses,
// because text being edited is rarely a complete query.
package complete

import (
	"errors"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aidanlsb/bql/internal/bql"
)

// Position is the grammatical slot under the cursor.
type Position string

const (
	PositionField      Position = "field"      // a field or named query
	PositionOperator   Position = "operator"   // after a field
	PositionValue      Position = "value"      // after an operator
	PositionConnective Position = "connective" // after a complete comparison
	PositionNone       Position = "none"       // inside a string or regex literal
)

// Field describes a queryable field.
type Field struct {
	Type   bql.FieldType
	Values []string // allowed values of a category field
}

// Options supplies what the analyzer can suggest.
type Options struct {
	Fields map[string]Field
	Names  []string // named queries
}

// Suggestion is one completion candidate. Text is ready to insert.
type Suggestion struct {
	Text   string `json:"text"`
	Kind   string `json:"kind"` // field, name, operator, value, connective
	Detail string `json:"detail,omitempty"`
}

// Result describes the cursor position. Start and End bound the text a
// chosen suggestion replaces.
type Result struct {
	Position    Position     `json:"position"`
	Prefix      string       `json:"prefix"`
	Start       int          `json:"start"`
	End         int          `json:"end"`
	Field       string       `json:"field,omitempty"`
	Operator    bql.Operator `json:"operator,omitempty"`
	Suppressed  bool         `json:"suppressed,omitempty"`
	Degraded    bool         `json:"degraded,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Analyze inspects text with the cursor at byte offset cursor. It never
// fails: a tokenizer error either means the cursor is inside an open literal,
// which suppresses suggestions, or falls back to a heuristic over the word
// before the cursor.
func Analyze(text string, cursor int, opts Options) Result {
	cursor = max(0, min(cursor, len(text)))

	tokens, err := bql.Tokenize(text)
	if err != nil {
		var lexErr *bql.LexError
		if errors.As(err, &lexErr) && lexErr.Pos < cursor {
			return suppressed(cursor)
		}
		res := heuristic(text, cursor)
		res.Suggestions = suggest(res, opts)
		return res
	}

	for _, tok := range tokens {
		end := tok.Pos + len(tok.Raw)
		if (tok.Kind == bql.TokenQuoted || tok.Kind == bql.TokenRegex) && tok.Pos < cursor && cursor < end {
			return suppressed(cursor)
		}
	}

	res := Result{Start: cursor, End: cursor}
	var before []bql.Token
	for _, tok := range tokens {
		end := tok.Pos + len(tok.Raw)
		if tok.Kind == bql.TokenWord && tok.Pos < cursor && cursor <= end {
			res.Prefix = text[tok.Pos:cursor]
			res.Start, res.End = tok.Pos, end
			break
		}
		if end > cursor {
			break
		}
		before = append(before, tok)
	}

	s := scan(before)
	res.Position, res.Field, res.Operator = s.position()
	res.Suggestions = suggest(res, opts)
	if s.state == stIs || s.state == stIsNot {
		res.Suggestions = filter(isSuggestions(s.state), res.Prefix)
	}
	return res
}

func suppressed(cursor int) Result {
	return Result{Position: PositionNone, Start: cursor, End: cursor, Suppressed: true, Suggestions: []Suggestion{}}
}

type state int

const (
	stOperand      state = iota // expecting a field, name, '(' or '!'
	stAfterOperand              // after a field or name
	stIs                        // after "is"
	stIsNot                     // after "is not"
	stValue                     // expecting a scalar value
	stListStart                 // expecting '(' or the first list item
	stListItem                  // expecting a list item
	stAfterItem                 // after a list item
	stAfterValue                // after a complete comparison
)

type scanner struct {
	state    state
	field    string
	operator bql.Operator
	inParens bool // list opened with '('
}

// scan replays tokens through a small grammar automaton. Unexpected tokens
// move it to stAfterValue, which a connective resets.
func scan(tokens []bql.Token) *scanner {
	s := &scanner{}
	for _, tok := range tokens {
		s.step(tok)
	}
	return s
}

func (s *scanner) step(tok bql.Token) {
	word := ""
	if tok.Kind == bql.TokenWord {
		word = strings.ToLower(tok.Text)
	}
	connective := tok.Kind == bql.TokenSymbol && (tok.Text == "&" || tok.Text == "|")

	switch s.state {
	case stOperand:
		switch {
		case tok.Kind == bql.TokenParen && tok.Text == "(", tok.Kind == bql.TokenSymbol && tok.Text == "!":
		case tok.Kind == bql.TokenWord || tok.Kind == bql.TokenQuoted:
			s.field, s.operator = tok.Text, ""
			s.state = stAfterOperand
		default:
			s.state = stAfterValue
		}

	case stAfterOperand:
		switch {
		case tok.Kind == bql.TokenOperator:
			s.setOperator(bql.Operator(strings.ToLower(tok.Text)))
		case word == "contains", word == "like", word == "in", word == "exists":
			s.setOperator(bql.Operator(word))
		case word == "is":
			s.state = stIs
		case connective:
			s.state = stOperand
		default:
			s.state = stAfterValue
		}

	case stIs:
		switch word {
		case "null":
			s.operator = bql.OpIsNull
			s.state = stAfterValue
		case "not":
			s.state = stIsNot
		default:
			s.state = stAfterValue
		}

	case stIsNot:
		if word == "null" {
			s.operator = bql.OpIsNotNull
		}
		s.state = stAfterValue

	case stValue:
		s.state = stAfterValue

	case stListStart:
		switch {
		case tok.Kind == bql.TokenParen && tok.Text == "(":
			s.inParens = true
			s.state = stListItem
		case isValueToken(tok):
			s.state = stAfterItem
		default:
			s.state = stAfterValue
		}

	case stListItem:
		if isValueToken(tok) {
			s.state = stAfterItem
		} else {
			s.state = stAfterValue
		}

	case stAfterItem:
		switch {
		case tok.Kind == bql.TokenComma:
			s.state = stListItem
		case connective && !s.inParens:
			s.state = stOperand
		default:
			s.state = stAfterValue
		}

	case stAfterValue:
		if connective {
			s.state = stOperand
		}
	}
}

func (s *scanner) setOperator(op bql.Operator) {
	s.operator = op
	s.inParens = false
	switch {
	case !op.TakesValue():
		s.state = stAfterValue
	case op.TakesList():
		s.state = stListStart
	default:
		s.state = stValue
	}
}

func (s *scanner) position() (Position, string, bql.Operator) {
	switch s.state {
	case stOperand:
		return PositionField, "", ""
	case stAfterOperand, stIs, stIsNot:
		return PositionOperator, s.field, ""
	case stValue, stListStart, stListItem:
		return PositionValue, s.field, s.operator
	default:
		return PositionConnective, "", ""
	}
}

func isValueToken(tok bql.Token) bool {
	return tok.Kind == bql.TokenWord || tok.Kind == bql.TokenQuoted || tok.Kind == bql.TokenRegex
}

func isSuggestions(st state) []Suggestion {
	if st == stIsNot {
		return []Suggestion{{Text: "null", Kind: "operator"}}
	}
	return []Suggestion{{Text: "null", Kind: "operator"}, {Text: "not null", Kind: "operator"}}
}

var wordOperators = map[string]bool{
	"contains": true, "like": true, "in": true, "exists": true,
	"!contains": true, "!like": true, "!in": true, "!exists": true,
}

// heuristic classifies the cursor from the whitespace-separated words before
// it. It is used when the input cannot be tokenized.
func heuristic(text string, cursor int) Result {
	head := text[:cursor]
	start := 0
	if i := strings.LastIndexFunc(head, func(r rune) bool { return !isPrefixRune(r) }); i >= 0 {
		_, size := utf8.DecodeRuneInString(head[i:])
		start = i + size
	}
	res := Result{Prefix: head[start:], Start: start, End: cursor, Degraded: true}

	words := strings.Fields(padSymbols(head[:start]))
	if len(words) == 0 {
		res.Position = PositionField
		return res
	}
	prev := strings.ToLower(words[len(words)-1])
	switch {
	case prev == "&" || prev == "|" || prev == "(" || prev == "!":
		res.Position = PositionField
	case strings.Trim(prev, "=<>!") == "" || wordOperators[prev]:
		res.Position = PositionValue
		res.Operator = bql.Operator(prev)
		if len(words) > 1 {
			res.Field = words[len(words)-2]
		}
	case prev == ",":
		res.Position = PositionValue
	default:
		res.Position = PositionOperator
		res.Field = words[len(words)-1]
	}
	return res
}

// padSymbols separates structural characters and comparison symbols from
// the words around them.
func padSymbols(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		next := byte(0)
		if i+1 < len(s) {
			next = s[i+1]
		}
		switch {
		case strings.IndexByte("&|(),", ch) >= 0:
			b.WriteByte(' ')
			b.WriteByte(ch)
			b.WriteByte(' ')
		case strings.IndexByte("=<>", ch) >= 0:
			if i == 0 || strings.IndexByte("=<>!", s[i-1]) < 0 {
				b.WriteByte(' ')
			}
			b.WriteByte(ch)
			if next != '=' {
				b.WriteByte(' ')
			}
		case ch == '!':
			b.WriteString(" !")
			if next != '=' && !isASCIILetter(next) {
				b.WriteByte(' ')
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isASCIILetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isPrefixRune(r rune) bool {
	return !unicode.IsSpace(r) && !strings.ContainsRune(`"/&|!()=<>,`, r)
}

func suggest(res Result, opts Options) []Suggestion {
	var out []Suggestion
	switch res.Position {
	case PositionField:
		for _, name := range sortedKeys(opts.Fields) {
			out = append(out, Suggestion{Text: bql.RenderName(name), Kind: "field", Detail: string(opts.Fields[name].Type)})
		}
		names := slices.Clone(opts.Names)
		slices.Sort(names)
		for _, name := range names {
			out = append(out, Suggestion{Text: bql.RenderName(name), Kind: "name"})
		}
	case PositionOperator:
		ops := bql.Operators
		if f, ok := opts.Fields[res.Field]; ok {
			ops = bql.SupportedOperators(f.Type)
		}
		for _, op := range ops {
			out = append(out, Suggestion{Text: string(op), Kind: "operator"})
		}
		out = append(out, Suggestion{Text: "&", Kind: "connective"}, Suggestion{Text: "|", Kind: "connective"})
	case PositionValue:
		f := opts.Fields[res.Field]
		for _, v := range valuesFor(f) {
			out = append(out, Suggestion{Text: bql.RenderValue(bql.String(v)), Kind: "value", Detail: string(f.Type)})
		}
	case PositionConnective:
		out = []Suggestion{{Text: "&", Kind: "connective"}, {Text: "|", Kind: "connective"}}
	}
	return filter(out, res.Prefix)
}

func valuesFor(f Field) []string {
	switch f.Type {
	case bql.FieldCategory:
		return f.Values
	case bql.FieldBoolean:
		return []string{"true", "false"}
	case bql.FieldDate:
		return []string{"today", "yesterday", "tomorrow"}
	}
	return nil
}

// filter keeps suggestions starting with prefix, ignoring case and any
// opening quote.
func filter(in []Suggestion, prefix string) []Suggestion {
	out := []Suggestion{}
	p := strings.ToLower(prefix)
	for _, s := range in {
		if strings.HasPrefix(strings.ToLower(strings.TrimPrefix(s.Text, `"`)), p) {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]Field) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
