// Package bql implements the BQL boolean query language: tokenizer, parser,
// named-query normalization, simplification, serialization back to text and
// compilation to a search-engine boolean query.
//
// Every transform is tree-in, tree-out. Nothing here mutates a tree it was
// handed; callers that edit in place replace the reference they hold.
package bql

import (
	"strconv"
	"strings"
)

// Node is a Rule or a *RuleGroup.
type Node interface {
	node()
	// IsNegated reports whether the node itself is negated.
	IsNegated() bool
}

// Condition joins the children of a RuleGroup.
type Condition int

const (
	And Condition = iota
	Or
)

func (c Condition) String() string {
	if c == Or {
		return "or"
	}
	return "and"
}

// symbol returns the surface syntax for c.
func (c Condition) symbol() string {
	if c == Or {
		return "|"
	}
	return "&"
}

// Operator is a comparison operator. The string value is the canonical
// surface spelling.
type Operator string

const (
	OpEq          Operator = "="
	OpNeq         Operator = "!="
	OpGt          Operator = ">"
	OpGte         Operator = ">="
	OpLt          Operator = "<"
	OpLte         Operator = "<="
	OpContains    Operator = "contains"
	OpNotContains Operator = "!contains"
	OpLike        Operator = "like"
	OpNotLike     Operator = "!like"
	OpIn          Operator = "in"
	OpNotIn       Operator = "!in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "!exists"
	OpIsNull      Operator = "is null"
	OpIsNotNull   Operator = "is not null"
)

// Operators lists every operator in display order.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
	OpContains, OpNotContains, OpLike, OpNotLike,
	OpIn, OpNotIn, OpExists, OpNotExists, OpIsNull, OpIsNotNull,
}

// TakesValue reports whether op is followed by a value.
func (op Operator) TakesValue() bool {
	switch op {
	case OpExists, OpNotExists, OpIsNull, OpIsNotNull:
		return false
	default:
		return true
	}
}

// TakesList reports whether op takes a list of values.
func (op Operator) TakesList() bool {
	return op == OpIn || op == OpNotIn
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueRegex
	ValueList
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBool:
		return "boolean"
	case ValueRegex:
		return "regex"
	case ValueList:
		return "list"
	default:
		return "absent"
	}
}

// Value is the right-hand side of a Rule. Exactly the fields selected by
// Kind are meaningful: Str for strings and regex patterns, Num, Bool, Flags
// for regex flags, and List (of scalars) for ValueList.
type Value struct {
	Kind  ValueKind
	Str   string
	Num   float64
	Bool  bool
	Flags string
	List  []Value

	// Quoted records that a string was typed in quotes. It only affects
	// rendering and is ignored by Equal.
	Quoted bool

	// Raw is the source spelling of a bare number, such as "02134" or
	// "1.10". String and category fields compile it verbatim.
	Raw string
}

// String returns a string value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

// QuotedString returns a string value rendered with quotes.
func QuotedString(s string) Value { return Value{Kind: ValueString, Str: s, Quoted: true} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// NumberText returns the spelling of a number value: Raw when the value
// came from source text, otherwise the shortest decimal form of Num.
func (v Value) NumberText() string {
	if v.Raw != "" {
		return v.Raw
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// Regex returns a regex literal value.
func Regex(pattern, flags string) Value { return Value{Kind: ValueRegex, Str: pattern, Flags: flags} }

// List returns a list of scalar values.
func List(items ...Value) Value { return Value{Kind: ValueList, List: items} }

// HasFlag reports whether a regex value carries flag f.
func (v Value) HasFlag(f rune) bool {
	return v.Kind == ValueRegex && strings.ContainsRune(v.Flags, f)
}

// Rule is a leaf comparison.
type Rule struct {
	Field    string
	Operator Operator
	Value    Value
	Negated  bool
	// IsChild marks a rule produced by expanding a named query.
	IsChild bool
}

func (Rule) node() {}

func (r Rule) IsNegated() bool { return r.Negated }

// RuleGroup is an internal node. A group with a Name and no children is an
// unexpanded reference to a named query; Normalize fills in its children
// and keeps the name.
type RuleGroup struct {
	Condition Condition
	Negated   bool
	Children  []Node
	Name      string
	// IsChild marks a group produced by expanding a named query.
	IsChild bool
}

func (*RuleGroup) node() {}

func (g *RuleGroup) IsNegated() bool { return g.Negated }

// IsReference reports whether g carries a name.
func (g *RuleGroup) IsReference() bool { return g.Name != "" }

// IsUnresolved reports whether g is a reference that has not been expanded.
func (g *RuleGroup) IsUnresolved() bool { return g.Name != "" && len(g.Children) == 0 }

// Ref returns an unexpanded reference to the named query name.
func Ref(name string) *RuleGroup { return &RuleGroup{Name: name} }

// NewGroup returns a group joining children with cond.
func NewGroup(cond Condition, children ...Node) *RuleGroup {
	return &RuleGroup{Condition: cond, Children: children}
}

// Clone returns a deep copy of g.
func (g *RuleGroup) Clone() *RuleGroup {
	if g == nil {
		return nil
	}
	c := *g
	if g.Children == nil {
		return &c
	}
	c.Children = make([]Node, len(g.Children))
	for i, child := range g.Children {
		c.Children[i] = cloneNode(child)
	}
	return &c
}

func cloneNode(n Node) Node {
	switch v := n.(type) {
	case Rule:
		v.Value = v.Value.clone()
		return v
	case *RuleGroup:
		return v.Clone()
	default:
		return n
	}
}

func (v Value) clone() Value {
	if v.List != nil {
		v.List = append([]Value(nil), v.List...)
	}
	return v
}

// Walk calls fn for n and every descendant in depth-first order. Returning
// false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	if g, ok := n.(*RuleGroup); ok {
		for _, child := range g.Children {
			Walk(child, fn)
		}
	}
}

// DefaultMaxDepth bounds nesting when no explicit limit is configured.
const DefaultMaxDepth = 64

// depthGuard counts recursion depth against a fixed limit.
type depthGuard struct {
	limit int
	depth int
}

func newDepthGuard(limit int) *depthGuard {
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	return &depthGuard{limit: limit}
}

func (d *depthGuard) enter() error {
	d.depth++
	if d.depth > d.limit {
		return &TooDeepError{Limit: d.limit}
	}
	return nil
}

func (d *depthGuard) leave() { d.depth-- }
