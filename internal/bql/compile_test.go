package bql

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aidanlsb/bql/internal/esquery"
)

var testTypes = FieldTypes{
	"lname":     FieldString,
	"name":      FieldString,
	"title":     FieldString,
	"dob":       FieldDate,
	"age":       FieldNumber,
	"active":    FieldBoolean,
	"status":    FieldCategory,
	"last_seen": FieldDate,
	"zip":       FieldString,
	"version":   FieldCategory,
	"code":      FieldString,
}

var testNow = time.Date(2026, time.October, 14, 15, 30, 0, 0, time.UTC)

func compileString(t *testing.T, input string) esquery.Query {
	t.Helper()
	q, err := CompileWithOptions(mustParse(t, input, nil), testTypes, CompileOptions{Now: testNow})
	if err != nil {
		t.Fatalf("Compile(%q) error: %v", input, err)
	}
	return q
}

// assertJSON compares the DSL form of q with want after decoding both.
func assertJSON(t *testing.T, q esquery.Query, want string) {
	t.Helper()
	raw, err := esquery.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var got, expected any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode compiled query: %v", err)
	}
	if err := json.Unmarshal([]byte(want), &expected); err != nil {
		t.Fatalf("decode expected query: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("compiled query\n got: %s\nwant: %s", raw, want)
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "and of term and range",
			input: `lname = "Doe" & dob > 1970-01-01`,
			want:  `{"bool":{"must":[{"term":{"lname":"Doe"}},{"range":{"dob":{"from":"1970-01-01","to":null,"include_lower":false,"include_upper":true}}}]}}`,
		},
		{
			name:  "negated in",
			input: "status !in (active, pending)",
			want:  `{"bool":{"must_not":{"terms":{"status":["active","pending"]}}}}`,
		},
		{
			name:  "case insensitive regex",
			input: "name LIKE /^Mc/i",
			want:  `{"regexp":{"name":{"value":"Mc.*","case_insensitive":true}}}`,
		},
		{
			name:  "regex with both anchors",
			input: "name like /^Mc.*son$/",
			want:  `{"regexp":{"name":{"value":"Mc.*son"}}}`,
		},
		{
			name:  "unanchored regex",
			input: "name !like /smith/",
			want:  `{"bool":{"must_not":{"regexp":{"name":{"value":".*smith.*"}}}}}`,
		},
		{
			name:  "or sets minimum should match",
			input: "age = 1 | age = 2",
			want:  `{"bool":{"should":[{"term":{"age":1}},{"term":{"age":2}}],"minimum_should_match":"1"}}`,
		},
		{
			name:  "not equal",
			input: "active != true",
			want:  `{"bool":{"must_not":{"term":{"active":true}}}}`,
		},
		{
			name:  "contains single word",
			input: "title contains War",
			want:  `{"wildcard":{"title":{"wildcard":"*War*","case_insensitive":true}}}`,
		},
		{
			name:  "contains escapes wildcard characters",
			input: `title contains "50*?"`,
			want:  `{"wildcard":{"title":{"wildcard":"*50\\*\\?*","case_insensitive":true}}}`,
		},
		{
			name:  "contains phrase",
			input: `title !contains "civil war"`,
			want:  `{"bool":{"must_not":{"match":{"title":{"query":"civil war","operator":"and"}}}}}`,
		},
		{
			name:  "exists and null checks",
			input: "name exists & title !exists & age is null & dob is not null",
			want: `{"bool":{"must":[
				{"exists":{"field":"name"}},
				{"bool":{"must_not":{"exists":{"field":"title"}}}},
				{"bool":{"must_not":{"exists":{"field":"age"}}}},
				{"exists":{"field":"dob"}}
			]}}`,
		},
		{
			name:  "date equality is a day range",
			input: "dob = 1970-01-01",
			want:  `{"range":{"dob":{"from":"1970-01-01","to":"1970-01-01","include_lower":true,"include_upper":true}}}`,
		},
		{
			name:  "relative dates",
			input: "last_seen >= yesterday & last_seen < TOMORROW",
			want:  `{"bool":{"must":[
				{"range":{"last_seen":{"from":"2026-10-13","to":null,"include_lower":true,"include_upper":true}}},
				{"range":{"last_seen":{"from":null,"to":"2026-10-15","include_lower":true,"include_upper":false}}}
			]}}`,
		},
		{
			name:  "quoted number on number field",
			input: `age >= "65"`,
			want:  `{"range":{"age":{"from":65,"to":null,"include_lower":true,"include_upper":true}}}`,
		},
		{
			name:  "category values are strings",
			input: "status in (1, active)",
			want:  `{"terms":{"status":["1","active"]}}`,
		},
		{
			name:  "bare numbers keep their spelling on string fields",
			input: "zip = 02134 & version = 1.10",
			want:  `{"bool":{"must":[{"term":{"zip":"02134"}},{"term":{"version":"1.10"}}]}}`,
		},
		{
			name:  "list of bare numbers on a string field",
			input: "code in (007, 1e3)",
			want:  `{"terms":{"code":["007","1e3"]}}`,
		},
		{
			name:  "leading zeros are dropped on number fields",
			input: "age = 065",
			want:  `{"term":{"age":65}}`,
		},
		{
			name:  "number in list",
			input: "age in 18, 21,",
			want:  `{"terms":{"age":[18,21]}}`,
		},
		{
			name:  "negated group",
			input: `!(lname = "x" & name = "y")`,
			want:  `{"bool":{"must_not":{"bool":{"must":[{"term":{"lname":"x"}},{"term":{"name":"y"}}]}}}}`,
		},
		{
			name:  "double negation is applied twice",
			input: "!!active = true",
			want:  `{"bool":{"must_not":{"bool":{"must_not":{"term":{"active":true}}}}}}`,
		},
		{
			name:  "nested or inside and",
			input: "(age < 18 | age > 65) & active = true",
			want: `{"bool":{"must":[
				{"bool":{"should":[
					{"range":{"age":{"from":null,"to":18,"include_lower":true,"include_upper":false}}},
					{"range":{"age":{"from":65,"to":null,"include_lower":false,"include_upper":true}}}
				],"minimum_should_match":"1"}},
				{"term":{"active":true}}
			]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertJSON(t, compileString(t, tt.input), tt.want)
		})
	}
}

func TestCompileNormalizedTree(t *testing.T) {
	names := library(t, map[string]string{"Seniors": "age >= 65"})
	tree, err := Normalize(mustParse(t, `"Seniors" & active = true`, nil), names)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	q, err := Compile(tree, testTypes)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	assertJSON(t, q, `{"bool":{"must":[`+
		`{"range":{"age":{"from":65,"to":null,"include_lower":true,"include_upper":true}}}`+
		`,{"term":{"active":true}}]}}`)
}

func TestCompileErrors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := Compile(mustParse(t, "shoe_size = 9", nil), testTypes)
		var target *UnknownFieldError
		if !errors.As(err, &target) || target.Field != "shoe_size" {
			t.Errorf("expected *UnknownFieldError for shoe_size, got %v", err)
		}
	})

	unsupported := []string{
		"status > active",
		"age contains 5",
		"active like /t/",
		"active in (true)",
		"dob contains 1970",
	}
	for _, input := range unsupported {
		t.Run(input, func(t *testing.T) {
			_, err := Compile(mustParse(t, input, nil), testTypes)
			var target *UnsupportedOperatorError
			if !errors.As(err, &target) {
				t.Errorf("expected *UnsupportedOperatorError, got %v", err)
			}
		})
	}

	invalid := []string{
		"age = abc",
		"age in (1, two)",
		"dob > not-a-date",
		"dob = 1970-02-30",
		"active = yes",
		"name like 5",
	}
	for _, input := range invalid {
		t.Run(input, func(t *testing.T) {
			_, err := Compile(mustParse(t, input, nil), testTypes)
			var target *InvalidValueError
			if !errors.As(err, &target) {
				t.Errorf("expected *InvalidValueError, got %v", err)
			}
		})
	}

	t.Run("unresolved reference", func(t *testing.T) {
		_, err := Compile(mustParse(t, "Seniors & active = true", nil), testTypes)
		var target *UnresolvedNameError
		if !errors.As(err, &target) || target.Name != "Seniors" {
			t.Errorf("expected *UnresolvedNameError, got %v", err)
		}
	})

	t.Run("empty group", func(t *testing.T) {
		_, err := Compile(NewGroup(And, NewGroup(Or), rule("age", OpEq, Number(1))), testTypes)
		if !errors.Is(err, ErrEmptyGroup) {
			t.Errorf("expected ErrEmptyGroup, got %v", err)
		}
	})

	t.Run("too deep", func(t *testing.T) {
		tree := NewGroup(And, rule("age", OpEq, Number(1)))
		for i := 0; i < 10; i++ {
			tree = &RuleGroup{Condition: And, Negated: true, Children: []Node{tree}}
		}
		_, err := CompileWithOptions(tree, testTypes, CompileOptions{MaxDepth: 5})
		if !errors.Is(err, ErrTooDeep) {
			t.Errorf("expected ErrTooDeep, got %v", err)
		}
	})
}

func TestCompileDoesNotModifyTree(t *testing.T) {
	tree := mustParse(t, "!(status in (a, b) | age > 3)", nil)
	before := tree.Clone()
	if _, err := Compile(tree, testTypes); err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if !reflect.DeepEqual(tree, before) {
		t.Error("Compile modified its input")
	}
}

var sampleDocs = []esquery.Document{
	{"lname": "Doe", "name": "John", "age": 70.0, "active": true, "status": "active", "dob": "1954-03-02"},
	{"lname": "Doe", "name": "Jane", "age": 40.0, "active": false, "status": "pending", "dob": "1984-11-20"},
	{"lname": "McNeil", "name": "Ann", "age": 16.0, "active": true, "status": "closed"},
	{"lname": "Smith", "name": "y", "age": 65.0, "status": []any{"active", "pending"}, "title": "The Civil War"},
	{"name": "y", "title": "War and Peace"},
	{},
}

func matchSet(t *testing.T, q esquery.Query) []bool {
	t.Helper()
	out := make([]bool, len(sampleDocs))
	for i, doc := range sampleDocs {
		ok, err := esquery.Match(q, doc)
		if err != nil {
			t.Fatalf("Match error: %v", err)
		}
		out[i] = ok
	}
	return out
}

func TestNegationDistributivity(t *testing.T) {
	pairs := []struct {
		negated string
		dual    string
	}{
		{negated: `!(lname = "Doe" & name = "y")`, dual: `lname != "Doe" | name != "y"`},
		{negated: `!(lname = "Doe" | age > 50)`, dual: `lname != "Doe" & !(age > 50)`},
		{negated: `!(status in (active) & active = true)`, dual: `status !in (active) | active != true`},
		{negated: `!(title contains war & name exists)`, dual: `title !contains war | name !exists`},
	}

	for _, tt := range pairs {
		t.Run(tt.negated, func(t *testing.T) {
			q := compileString(t, tt.negated)
			src, err := esquery.Source(q)
			if err != nil {
				t.Fatalf("Source error: %v", err)
			}
			body, _ := src["bool"].(map[string]any)
			if _, single := body["must_not"].(map[string]any); !single || len(body) != 1 {
				t.Fatalf("negated group should compile to a single must_not clause, got %v", src)
			}
			got := matchSet(t, q)
			want := matchSet(t, compileString(t, tt.dual))
			if !reflect.DeepEqual(got, want) {
				t.Errorf("documents differ\n%s: %v\n%s: %v", tt.negated, got, tt.dual, want)
			}
		})
	}
}

func TestCompiledQueriesSelectDocuments(t *testing.T) {
	tests := []struct {
		input string
		want  []bool
	}{
		{input: `lname = "Doe"`, want: []bool{true, true, false, false, false, false}},
		{input: "age >= 65 & active = true", want: []bool{true, false, false, false, false, false}},
		{input: "name like /^j/i", want: []bool{true, true, false, false, false, false}},
		{input: "lname like /^Mc/", want: []bool{false, false, true, false, false, false}},
		{input: "title contains war", want: []bool{false, false, false, true, true, false}},
		{input: `title contains "war peace"`, want: []bool{false, false, false, false, true, false}},
		{input: "status in (pending)", want: []bool{false, true, false, true, false, false}},
		{input: "dob < 1970-01-01 | dob is null", want: []bool{true, false, true, true, true, true}},
		{input: "!(!(active = true))", want: []bool{true, false, true, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := matchSet(t, compileString(t, tt.input)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupportedOperators(t *testing.T) {
	got := SupportedOperators(FieldBoolean)
	for _, op := range got {
		if op == OpGt || op == OpIn || op == OpContains {
			t.Errorf("boolean fields should not support %q", op)
		}
	}
	if !strings.Contains(strings.Join(opStrings(SupportedOperators(FieldString)), " "), "like") {
		t.Error("string fields should support like")
	}
	if _, err := ParseFieldType("Category "); err != nil {
		t.Errorf("ParseFieldType should accept padded, mixed case names: %v", err)
	}
	if _, err := ParseFieldType("uuid"); err == nil {
		t.Error("ParseFieldType should reject unknown types")
	}
}

func opStrings(ops []Operator) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
