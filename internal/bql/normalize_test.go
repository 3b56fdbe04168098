package bql

import (
	"errors"
	"reflect"
	"slices"
	"testing"
)

func library(t *testing.T, defs map[string]string) map[string]*RuleGroup {
	t.Helper()
	names := make(map[string]*RuleGroup, len(defs))
	for name, text := range defs {
		names[name] = mustParse(t, text, nil)
	}
	return names
}

func TestNormalizeExpandsReference(t *testing.T) {
	names := map[string]*RuleGroup{"Seniors": NewGroup(And, rule("age", OpGte, Number(65)))}
	tree := mustParse(t, `"Seniors" & active = true`, NamesOf(names))

	got, err := Normalize(tree, names)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	ref, ok := got.Children[0].(*RuleGroup)
	if !ok || ref.Name != "Seniors" || len(ref.Children) != 1 {
		t.Fatalf("expected expanded Seniors reference, got %#v", got.Children[0])
	}
	age := ref.Children[0].(Rule)
	if !age.IsChild {
		t.Error("expanded rule should be marked IsChild")
	}
	if active := got.Children[1].(Rule); active.IsChild {
		t.Error("rule outside the reference should not be marked IsChild")
	}

	want := NewGroup(And, rule("age", OpGte, Number(65)), rule("active", OpEq, Bool(true)))
	flat := Inline(got)
	if !Equal(flat, want) {
		t.Errorf("Inline(Normalize) = %s, want %s", ToText(flat), ToText(want))
	}
	if !flat.Children[0].(Rule).IsChild {
		t.Error("IsChild should survive inlining")
	}
}

func TestNormalizeNested(t *testing.T) {
	names := library(t, map[string]string{
		"Seniors":       "age >= 65",
		"ActiveSeniors": "Seniors & active = true",
		"Targets":       "ActiveSeniors | vip = true",
	})
	tree := mustParse(t, "Targets & region = west", nil)

	got, err := Normalize(tree, names)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	want := mustParse(t, "(age >= 65 & active = true | vip = true) & region = west", nil)
	if flat := Inline(got); !Equal(flat, want) {
		t.Errorf("Inline(Normalize) = %s, want %s", ToText(flat), ToText(want))
	}
	if !ContainsNamedRule(got, "Seniors") || !ContainsNamedRule(got, "ActiveSeniors") {
		t.Error("expanded tree should keep the names of nested references")
	}

	var childGroups int
	Walk(got.Children[0], func(n Node) bool {
		if g, ok := n.(*RuleGroup); ok && g.Name == "Seniors" {
			childGroups++
			if !g.IsChild {
				t.Error("nested reference should be marked IsChild")
			}
		}
		return true
	})
	if childGroups != 1 {
		t.Errorf("found %d Seniors groups, want 1", childGroups)
	}
}

func TestNormalizeNegation(t *testing.T) {
	names := library(t, map[string]string{
		"Seniors":    "age >= 65",
		"NotSeniors": "!(age >= 65 | retired = true)",
	})

	t.Run("negated reference", func(t *testing.T) {
		got, err := Normalize(mustParse(t, "!Seniors", nil), names)
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		want := NewGroup(And, Rule{Field: "age", Operator: OpGte, Value: Number(65), Negated: true})
		if flat := Inline(got); !Equal(flat, want) {
			t.Errorf("got %s, want %s", ToText(flat), ToText(want))
		}
		if ToText(got) != "!Seniors" {
			t.Errorf("ToText = %q, want %q", ToText(got), "!Seniors")
		}
	})

	t.Run("negated definition", func(t *testing.T) {
		got, err := Normalize(mustParse(t, "NotSeniors & x = 1", nil), names)
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		want := mustParse(t, "!(age >= 65 | retired = true) & x = 1", nil)
		if flat := Inline(got); !Equal(flat, want) {
			t.Errorf("got %s, want %s", ToText(flat), ToText(want))
		}
	})
}

func TestNormalizeCycles(t *testing.T) {
	names := map[string]*RuleGroup{
		"A":    NewGroup(And, Ref("B"), rule("a", OpEq, Number(1))),
		"B":    NewGroup(Or, Ref("A"), rule("b", OpEq, Number(2))),
		"Self": NewGroup(And, Ref("Self")),
	}

	_, err := Normalize(mustParse(t, "A", nil), names)
	var cycle *CyclicReferenceError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CyclicReferenceError, got %v", err)
	}
	if cycle.Name != "A" || !slices.Equal(cycle.Chain, []string{"A", "B", "A"}) {
		t.Errorf("unexpected cycle: %+v", cycle)
	}

	_, err = NormalizeNamed("Self", names)
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CyclicReferenceError for self reference, got %v", err)
	}
	if !slices.Equal(cycle.Chain, []string{"Self", "Self"}) {
		t.Errorf("chain = %v", cycle.Chain)
	}
}

func TestNormalizeRepeatedReferenceIsNotACycle(t *testing.T) {
	names := library(t, map[string]string{"Seniors": "age >= 65"})
	got, err := Normalize(mustParse(t, "Seniors | (Seniors & x = 1)", nil), names)
	if err != nil {
		t.Fatalf("sibling references must not be treated as a cycle: %v", err)
	}
	if len(Unresolved(got)) != 0 {
		t.Errorf("unexpected unresolved references: %v", Unresolved(got))
	}
}

func TestNormalizeUnresolved(t *testing.T) {
	names := library(t, map[string]string{"Seniors": "age >= 65"})
	tree := mustParse(t, "Seniors & Missing | Other & !Missing", nil)

	got, err := Normalize(tree, names)
	if err != nil {
		t.Fatalf("unresolved names must not fail Normalize: %v", err)
	}
	var missing []string
	for _, u := range Unresolved(got) {
		missing = append(missing, u.Name)
	}
	if !slices.Equal(missing, []string{"Missing", "Other"}) {
		t.Errorf("Unresolved = %v, want [Missing Other]", missing)
	}
}

func TestNormalizeNamedMissing(t *testing.T) {
	_, err := NormalizeNamed("Nope", map[string]*RuleGroup{})
	var unresolved *UnresolvedNameError
	if !errors.As(err, &unresolved) || unresolved.Name != "Nope" {
		t.Fatalf("expected *UnresolvedNameError for Nope, got %v", err)
	}
}

func TestNormalizeIsPure(t *testing.T) {
	names := library(t, map[string]string{"Seniors": "age >= 65 & status in (a, b)"})
	tree := mustParse(t, "Seniors & active = true", nil)
	before := tree.Clone()
	defBefore := names["Seniors"].Clone()

	first, err := Normalize(tree, names)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if !reflect.DeepEqual(tree, before) {
		t.Error("Normalize modified its input tree")
	}
	if !reflect.DeepEqual(names["Seniors"], defBefore) {
		t.Error("Normalize modified the library")
	}

	second, err := Normalize(first, names)
	if err != nil {
		t.Fatalf("second Normalize error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Normalize is not idempotent:\nfirst:  %#v\nsecond: %#v", first, second)
	}

	// The expansion must not share the library's value slices.
	ref := first.Children[0].(*RuleGroup)
	in := ref.Children[1].(Rule)
	in.Value.List[0] = String("changed")
	if names["Seniors"].Children[1].(Rule).Value.List[0].Str != "a" {
		t.Error("expanded list aliases the library definition")
	}
}

func TestNormalizeDepthLimit(t *testing.T) {
	names := map[string]*RuleGroup{}
	prev := ""
	for i := 0; i < 10; i++ {
		name := string(rune('A' + i))
		if prev == "" {
			names[name] = NewGroup(And, rule("x", OpEq, Number(1)))
		} else {
			names[name] = NewGroup(And, Ref(prev))
		}
		prev = name
	}

	if _, err := NormalizeWithOptions(Ref(prev), names, NormalizeOptions{MaxDepth: 5}); !errors.Is(err, ErrTooDeep) {
		t.Errorf("expected ErrTooDeep, got %v", err)
	}
	if _, err := NormalizeWithOptions(Ref(prev), names, NormalizeOptions{MaxDepth: 20}); err != nil {
		t.Errorf("unexpected error within limit: %v", err)
	}
}
