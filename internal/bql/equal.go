package bql

// Equal reports whether a and b are structurally equal: same fields,
// operators, values, conditions and negation, recursively. IsChild and
// Value.Quoted are presentation flags and are ignored. Named groups are
// equal when their names and negation match; a name stands for its
// definition whether or not the children have been expanded.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case Rule:
		y, ok := b.(Rule)
		return ok && rulesEqual(x, y)
	case *RuleGroup:
		y, ok := b.(*RuleGroup)
		return ok && groupsEqual(x, y)
	}
	return a == nil && b == nil
}

func rulesEqual(a, b Rule) bool {
	return a.Field == b.Field &&
		a.Operator == b.Operator &&
		a.Negated == b.Negated &&
		ValuesEqual(a.Value, b.Value)
}

func groupsEqual(a, b *RuleGroup) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Negated != b.Negated {
		return false
	}
	if a.Name != "" {
		return true
	}
	if a.Condition != b.Condition || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two values, ignoring Quoted. Numbers must agree in
// value and spelling.
func ValuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValueString:
		return a.Str == b.Str
	case ValueNumber:
		return a.Num == b.Num && a.NumberText() == b.NumberText()
	case ValueBool:
		return a.Bool == b.Bool
	case ValueRegex:
		return a.Str == b.Str && a.Flags == b.Flags
	case ValueList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !ValuesEqual(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
