package esquery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Document is a flat record keyed by field name. A field may hold a scalar
// or a []any of scalars.
type Document map[string]any

// Match reports whether doc satisfies q. It evaluates the DSL form of q
// closely enough to compare compiled shapes: term values compare exactly,
// match queries are analyzed into lower-cased terms, and regexp and wildcard
// patterns must match the whole value.
func Match(q Query, doc Document) (bool, error) {
	src, err := Source(q)
	if err != nil {
		return false, err
	}
	return matchClause(src, doc)
}

func matchClause(clause any, doc Document) (bool, error) {
	m, ok := clause.(map[string]any)
	if !ok || len(m) != 1 {
		return false, fmt.Errorf("query clause must be an object with one key, got %v", clause)
	}
	for kind, body := range m {
		switch kind {
		case "bool":
			return matchBool(body, doc)
		case "match_all":
			return true, nil
		case "match_none":
			return false, nil
		case "exists":
			params, _ := body.(map[string]any)
			field, ok := params["field"].(string)
			if !ok {
				return false, fmt.Errorf("exists query without a field")
			}
			return exists(doc[field]), nil
		}

		field, params, err := fieldParams(kind, body)
		if err != nil {
			return false, err
		}
		value := doc[field]
		switch kind {
		case "term":
			want, caseInsensitive := param(params, "value")
			return anyValue(value, func(x any) bool {
				if caseInsensitive {
					return strings.EqualFold(toString(x), toString(want))
				}
				return scalarEqual(x, want)
			}), nil
		case "terms":
			wants, ok := params.([]any)
			if !ok {
				return false, fmt.Errorf("terms query on %q needs a list of values", field)
			}
			return anyValue(value, func(x any) bool {
				for _, want := range wants {
					if scalarEqual(x, want) {
						return true
					}
				}
				return false
			}), nil
		case "range":
			bounds, ok := params.(map[string]any)
			if !ok {
				return false, fmt.Errorf("range query on %q needs bounds", field)
			}
			lower, upper := rangeBounds(bounds)
			return anyValue(value, func(x any) bool { return inRange(x, lower, upper) }), nil
		case "wildcard":
			pattern, caseInsensitive := param(params, "wildcard", "value")
			re, err := wildcardRegexp(toString(pattern), caseInsensitive)
			if err != nil {
				return false, err
			}
			return anyValue(value, func(x any) bool { return re.MatchString(toString(x)) }), nil
		case "regexp":
			pattern, caseInsensitive := param(params, "value")
			expr := "^(?:" + toString(pattern) + ")$"
			if caseInsensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return false, fmt.Errorf("invalid regexp %q: %w", pattern, err)
			}
			return anyValue(value, func(x any) bool { return re.MatchString(toString(x)) }), nil
		case "match":
			text, _ := param(params, "query")
			operator := ""
			if m, ok := params.(map[string]any); ok {
				operator, _ = m["operator"].(string)
			}
			return matchText(value, toString(text), operator), nil
		}
		return false, fmt.Errorf("unsupported query type %q", kind)
	}
	return false, nil
}

// fieldParams splits a field-keyed body such as {"age": {...}} into the
// field name and its parameters.
func fieldParams(kind string, body any) (string, any, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%s query body must be an object", kind)
	}
	field, found := "", 0
	for k := range m {
		if k == "boost" || strings.HasPrefix(k, "_") {
			continue
		}
		field = k
		found++
	}
	if found != 1 {
		return "", nil, fmt.Errorf("%s query must name exactly one field", kind)
	}
	return field, m[field], nil
}

// param reads the value of a short-form ({"f": v}) or long-form
// ({"f": {"value": v}}) field query, trying keys in order.
func param(params any, keys ...string) (value any, caseInsensitive bool) {
	m, ok := params.(map[string]any)
	if !ok {
		return params, false
	}
	caseInsensitive, _ = m["case_insensitive"].(bool)
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, caseInsensitive
		}
	}
	return nil, caseInsensitive
}

func matchBool(body any, doc Document) (bool, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return false, fmt.Errorf("bool query body must be an object")
	}
	must := append(clauses(m["must"]), clauses(m["filter"])...)
	for _, c := range must {
		ok, err := matchClause(c, doc)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, c := range clauses(m["must_not"]) {
		ok, err := matchClause(c, doc)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	should := clauses(m["should"])
	if len(should) == 0 {
		return true, nil
	}
	required, err := minimumShouldMatch(m["minimum_should_match"], len(must) == 0)
	if err != nil {
		return false, err
	}
	matched := 0
	for _, c := range should {
		ok, err := matchClause(c, doc)
		if err != nil {
			return false, err
		}
		if ok {
			matched++
		}
	}
	return matched >= required, nil
}

// clauses accepts both the single-object and the array form of a bool
// clause list.
func clauses(v any) []any {
	switch c := v.(type) {
	case nil:
		return nil
	case []any:
		return c
	default:
		return []any{c}
	}
}

func minimumShouldMatch(v any, onlyShould bool) (int, error) {
	switch n := v.(type) {
	case nil:
		if onlyShould {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("unsupported minimum_should_match %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("unsupported minimum_should_match %v", v)
}

func anyValue(v any, fn func(any) bool) bool {
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if item != nil && fn(item) {
				return true
			}
		}
		return false
	}
	return v != nil && fn(v)
}

func exists(v any) bool {
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if item != nil {
				return true
			}
		}
		return false
	}
	return v != nil
}

func scalarEqual(docValue, want any) bool {
	if a, ok := toFloat(docValue); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	if a, ok := docValue.(bool); ok {
		b, ok := want.(bool)
		return ok && a == b
	}
	return toString(docValue) == toString(want)
}

type bound struct {
	value     any
	inclusive bool
}

// rangeBounds reads both the gt/gte/lt/lte and the from/to/include_* forms.
func rangeBounds(p map[string]any) (lower, upper []bound) {
	add := func(dst *[]bound, key string, inclusive bool) {
		if v := p[key]; v != nil {
			*dst = append(*dst, bound{value: v, inclusive: inclusive})
		}
	}
	add(&lower, "gt", false)
	add(&lower, "gte", true)
	add(&upper, "lt", false)
	add(&upper, "lte", true)
	add(&lower, "from", includes(p, "include_lower"))
	add(&upper, "to", includes(p, "include_upper"))
	return lower, upper
}

func includes(p map[string]any, key string) bool {
	b, ok := p[key].(bool)
	return !ok || b
}

func inRange(x any, lower, upper []bound) bool {
	for _, b := range lower {
		c, ok := compare(x, b.value)
		if !ok || c < 0 || (c == 0 && !b.inclusive) {
			return false
		}
	}
	for _, b := range upper {
		c, ok := compare(x, b.value)
		if !ok || c > 0 || (c == 0 && !b.inclusive) {
			return false
		}
	}
	return true
}

// compare orders numbers numerically and everything else as strings, which
// orders ISO-8601 dates chronologically.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if _, ok := a.(bool); ok {
		return 0, false
	}
	return strings.Compare(toString(a), toString(b)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func wildcardRegexp(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			b.WriteString(".*")
		case r == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func matchText(v any, query, operator string) bool {
	want := analyze(query)
	if len(want) == 0 {
		return false
	}
	return anyValue(v, func(x any) bool {
		have := make(map[string]bool)
		for _, term := range analyze(toString(x)) {
			have[term] = true
		}
		found := 0
		for _, term := range want {
			if have[term] {
				found++
			}
		}
		if strings.EqualFold(operator, "and") {
			return found == len(want)
		}
		return found > 0
	})
}

// analyze splits text into lower-cased letter/digit runs.
func analyze(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
