package bql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	elastic "github.com/olivere/elastic/v7"

	"github.com/aidanlsb/bql/internal/dates"
	"github.com/aidanlsb/bql/internal/esquery"
)

// FieldType is the declared type of a queryable field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldBoolean  FieldType = "boolean"
	FieldCategory FieldType = "category"
)

// ParseFieldType validates a field type name.
func ParseFieldType(s string) (FieldType, error) {
	switch ft := FieldType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FieldString, FieldNumber, FieldDate, FieldBoolean, FieldCategory:
		return ft, nil
	}
	return "", fmt.Errorf("unknown field type %q (expected string, number, date, boolean or category)", s)
}

// SupportedOperators returns the operators Compile accepts for ft.
func SupportedOperators(ft FieldType) []Operator {
	var ops []Operator
	for _, op := range Operators {
		if supports(ft, op) {
			ops = append(ops, op)
		}
	}
	return ops
}

func supports(ft FieldType, op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpExists, OpNotExists, OpIsNull, OpIsNotNull:
		return true
	case OpGt, OpGte, OpLt, OpLte:
		return ft == FieldNumber || ft == FieldDate
	case OpContains, OpNotContains, OpLike, OpNotLike:
		return ft == FieldString
	case OpIn, OpNotIn:
		return ft != FieldBoolean
	}
	return false
}

// FieldTypes maps field names to their declared types.
type FieldTypes map[string]FieldType

// CompileOptions configures Compile.
type CompileOptions struct {
	// Now anchors relative dates. Zero means time.Now().
	Now      time.Time
	MaxDepth int
}

// Compile translates a normalized tree into a search-engine query. Names
// are ignored; a reference that was never expanded is an error.
func Compile(tree *RuleGroup, types FieldTypes) (esquery.Query, error) {
	return CompileWithOptions(tree, types, CompileOptions{})
}

// CompileWithOptions is Compile with explicit options.
func CompileWithOptions(tree *RuleGroup, types FieldTypes, opts CompileOptions) (esquery.Query, error) {
	if tree == nil {
		return nil, ErrEmptyGroup
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	c := &compiler{types: types, now: opts.Now, guard: newDepthGuard(opts.MaxDepth)}
	return c.group(tree)
}

type compiler struct {
	types FieldTypes
	now   time.Time
	guard *depthGuard
}

func (c *compiler) node(n Node) (esquery.Query, error) {
	switch v := n.(type) {
	case Rule:
		q, err := c.rule(v)
		if err != nil {
			return nil, err
		}
		if v.Negated {
			return esquery.Not(q), nil
		}
		return q, nil
	case *RuleGroup:
		return c.group(v)
	}
	return nil, fmt.Errorf("unknown node type %T", n)
}

func (c *compiler) group(g *RuleGroup) (esquery.Query, error) {
	if err := c.guard.enter(); err != nil {
		return nil, err
	}
	defer c.guard.leave()

	if g.IsUnresolved() {
		return nil, &UnresolvedNameError{Name: g.Name}
	}
	if len(g.Children) == 0 {
		return nil, ErrEmptyGroup
	}

	clauses := make([]esquery.Query, 0, len(g.Children))
	for _, child := range g.Children {
		q, err := c.node(child)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, q)
	}

	var q esquery.Query
	switch {
	case len(clauses) == 1:
		q = clauses[0]
	case g.Condition == Or:
		q = esquery.Or(clauses...)
	default:
		q = esquery.And(clauses...)
	}
	if g.Negated {
		return esquery.Not(q), nil
	}
	return q, nil
}

func (c *compiler) rule(r Rule) (esquery.Query, error) {
	ft, ok := c.types[r.Field]
	if !ok {
		return nil, &UnknownFieldError{Field: r.Field}
	}
	if !supports(ft, r.Operator) {
		return nil, &UnsupportedOperatorError{Field: r.Field, Operator: r.Operator, Type: ft}
	}

	switch r.Operator {
	case OpEq, OpNeq:
		q, err := c.equality(r, ft)
		if err != nil {
			return nil, err
		}
		if r.Operator == OpNeq {
			return esquery.Not(q), nil
		}
		return q, nil

	case OpGt, OpGte, OpLt, OpLte:
		bound, err := c.scalar(r.Field, ft, r.Value)
		if err != nil {
			return nil, err
		}
		q := elastic.NewRangeQuery(r.Field)
		switch r.Operator {
		case OpGt:
			q.Gt(bound)
		case OpGte:
			q.Gte(bound)
		case OpLt:
			q.Lt(bound)
		default:
			q.Lte(bound)
		}
		return q, nil

	case OpContains, OpNotContains:
		text, err := c.text(r.Field, ft, r.Value)
		if err != nil {
			return nil, err
		}
		var q esquery.Query
		if strings.ContainsFunc(text, isSpace) {
			q = elastic.NewMatchQuery(r.Field, text).Operator("and")
		} else {
			q = elastic.NewWildcardQuery(r.Field, "*"+escapeWildcard(text)+"*").CaseInsensitive(true)
		}
		if r.Operator == OpNotContains {
			return esquery.Not(q), nil
		}
		return q, nil

	case OpLike, OpNotLike:
		q, err := c.regexp(r, ft)
		if err != nil {
			return nil, err
		}
		if r.Operator == OpNotLike {
			return esquery.Not(q), nil
		}
		return q, nil

	case OpIn, OpNotIn:
		items := r.Value.List
		if r.Value.Kind != ValueList {
			items = []Value{r.Value}
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := c.scalar(r.Field, ft, item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		q := elastic.NewTermsQuery(r.Field, values...)
		if r.Operator == OpNotIn {
			return esquery.Not(q), nil
		}
		return q, nil

	case OpExists, OpIsNotNull:
		return elastic.NewExistsQuery(r.Field), nil

	case OpNotExists, OpIsNull:
		return esquery.Not(elastic.NewExistsQuery(r.Field)), nil
	}

	return nil, &UnsupportedOperatorError{Field: r.Field, Operator: r.Operator, Type: ft}
}

func (c *compiler) equality(r Rule, ft FieldType) (esquery.Query, error) {
	v, err := c.scalar(r.Field, ft, r.Value)
	if err != nil {
		return nil, err
	}
	if ft == FieldDate {
		return elastic.NewRangeQuery(r.Field).Gte(v).Lte(v), nil
	}
	return elastic.NewTermQuery(r.Field, v), nil
}

// scalar converts a single value to the representation the engine expects
// for ft.
func (c *compiler) scalar(field string, ft FieldType, v Value) (any, error) {
	invalid := func(reason string) error {
		return &InvalidValueError{Field: field, Type: ft, Value: RenderValue(v), Reason: reason}
	}

	switch v.Kind {
	case ValueString, ValueNumber, ValueBool:
	case ValueAbsent:
		return nil, &InvalidValueError{Field: field, Type: ft, Value: "(none)", Reason: "a value is required"}
	default:
		return nil, invalid("expected a single value")
	}

	switch ft {
	case FieldNumber:
		switch v.Kind {
		case ValueNumber:
			return v.Num, nil
		case ValueString:
			if n, ok := parseNumber(strings.TrimSpace(v.Str)); ok {
				return n, nil
			}
		}
		return nil, invalid("expected a number")

	case FieldDate:
		if v.Kind != ValueString {
			return nil, invalid("expected a date")
		}
		d, err := dates.Resolve(v.Str, c.now)
		if err != nil {
			return nil, invalid(err.Error())
		}
		return d, nil

	case FieldBoolean:
		switch v.Kind {
		case ValueBool:
			return v.Bool, nil
		case ValueString:
			if b, err := strconv.ParseBool(v.Str); err == nil {
				return b, nil
			}
		}
		return nil, invalid("expected true or false")

	default:
		return scalarText(v), nil
	}
}

func (c *compiler) text(field string, ft FieldType, v Value) (string, error) {
	switch v.Kind {
	case ValueString, ValueNumber, ValueBool:
		return scalarText(v), nil
	}
	return "", &InvalidValueError{Field: field, Type: ft, Value: RenderValue(v), Reason: "expected text"}
}

func (c *compiler) regexp(r Rule, ft FieldType) (esquery.Query, error) {
	var pattern string
	caseInsensitive := false
	switch r.Value.Kind {
	case ValueRegex:
		pattern = r.Value.Str
		caseInsensitive = r.Value.HasFlag('i')
	case ValueString:
		pattern = r.Value.Str
	default:
		return nil, &InvalidValueError{Field: r.Field, Type: ft, Value: RenderValue(r.Value), Reason: "expected a regex literal"}
	}
	q := elastic.NewRegexpQuery(r.Field, anchoredPattern(pattern))
	if caseInsensitive {
		q.CaseInsensitive(true)
	}
	return q, nil
}

// anchoredPattern converts a search-style pattern, where ^ and $ are
// optional anchors, into the whole-value syntax of the engine.
func anchoredPattern(pattern string) string {
	var b strings.Builder
	if p, ok := strings.CutPrefix(pattern, "^"); ok {
		pattern = p
	} else {
		b.WriteString(".*")
	}

	trailing := ".*"
	if strings.HasSuffix(pattern, "$") && !escapedAt(pattern, len(pattern)-1) {
		pattern = pattern[:len(pattern)-1]
		trailing = ""
	}
	b.WriteString(pattern)
	b.WriteString(trailing)
	return b.String()
}

// escapedAt reports whether the byte at i is preceded by an odd run of
// backslashes.
func escapedAt(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func scalarText(v Value) string {
	switch v.Kind {
	case ValueNumber:
		return v.NumberText()
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

func escapeWildcard(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	return r.Replace(s)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
