package bql

import (
	"strconv"
	"strings"
)

// ToText renders a tree as canonical BQL. Parentheses appear only where
// precedence requires them (an Or inside an And) and around negated groups.
// A named group renders as its bare name whatever its children are.
func ToText(g *RuleGroup) string {
	if g == nil {
		return ""
	}
	if g.Name == "" && !g.Negated && len(g.Children) == 1 {
		return render(g.Children[0], Or)
	}
	return render(g, Or)
}

// render writes n as it appears inside a parent joined by parent.
func render(n Node, parent Condition) string {
	switch v := n.(type) {
	case Rule:
		if v.Negated {
			return "!(" + renderRule(v) + ")"
		}
		return renderRule(v)
	case *RuleGroup:
		return renderGroup(v, parent)
	default:
		return ""
	}
}

func renderGroup(g *RuleGroup, parent Condition) string {
	if g.Name != "" {
		if g.Negated {
			return "!" + RenderName(g.Name)
		}
		return RenderName(g.Name)
	}

	parts := make([]string, len(g.Children))
	for i, child := range g.Children {
		parts[i] = render(child, g.Condition)
	}
	body := strings.Join(parts, " "+g.Condition.symbol()+" ")

	switch {
	case g.Negated:
		return "!(" + body + ")"
	case g.Condition == Or && parent == And && len(g.Children) > 1:
		return "(" + body + ")"
	default:
		return body
	}
}

func renderRule(r Rule) string {
	var b strings.Builder
	b.WriteString(renderField(r.Field))
	b.WriteByte(' ')
	b.WriteString(string(r.Operator))
	if !r.Operator.TakesValue() {
		return b.String()
	}
	b.WriteByte(' ')
	if r.Operator.TakesList() && r.Value.Kind == ValueList {
		b.WriteString(renderList(r.Value.List))
		return b.String()
	}
	b.WriteString(RenderValue(r.Value))
	return b.String()
}

func renderList(items []Value) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = RenderValue(item)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// RenderValue renders a single value in surface syntax.
func RenderValue(v Value) string {
	switch v.Kind {
	case ValueString:
		if v.Quoted || !safeBareValue(v.Str) {
			return quote(v.Str)
		}
		return v.Str
	case ValueNumber:
		return v.NumberText()
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueRegex:
		return "/" + escapeRegexDelimiters(v.Str) + "/" + v.Flags
	case ValueList:
		return renderList(v.List)
	default:
		return ""
	}
}

func renderField(field string) string {
	if isSafeWord(field) && !isKeyword(field) {
		return field
	}
	return quote(field)
}

// RenderName renders a named-query reference, quoting it when a bare word
// would lex differently.
func RenderName(name string) string {
	if isSafeWord(name) && !isKeyword(name) {
		return name
	}
	return quote(name)
}

// safeBareValue reports whether s re-lexes as the same single string word.
func safeBareValue(s string) bool {
	if !isSafeWord(s) {
		return false
	}
	if v := bareValue(s); v.Kind != ValueString {
		return false
	}
	return true
}

// isSafeWord reports whether s lexes as exactly one word token wherever it
// appears.
func isSafeWord(s string) bool {
	if s == "" || s[0] == '/' {
		return false
	}
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "contains", "like", "in", "exists", "is", "not", "null":
		return true
	}
	return false
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// escapeRegexDelimiters escapes every '/' not already preceded by an odd run
// of backslashes so the pattern survives re-lexing.
func escapeRegexDelimiters(pattern string) string {
	if !strings.Contains(pattern, "/") {
		return pattern
	}
	var b strings.Builder
	backslashes := 0
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch == '/' && backslashes%2 == 0 {
			b.WriteByte('\\')
		}
		if ch == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// parseNumber accepts an optional sign, digits, an optional fraction and an
// optional exponent. Words like "inf" or "0x10" stay strings.
func parseNumber(s string) (float64, bool) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '-' || s[i] == '+') {
			i++
		}
		expDigits := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			expDigits++
		}
		if expDigits == 0 {
			return 0, false
		}
	}
	if i != len(s) {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }
