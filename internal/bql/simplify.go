package bql

// Simplify returns the canonical form of tree. Unnamed single-child groups
// are replaced by their child, and un-negated, unnamed groups are merged
// into a parent that uses the same condition. Named groups are kept as
// boundaries so they still render as their name. A negated or named root is
// wrapped in an un-negated And group, the shape the parser returns. Simplify
// is idempotent.
func Simplify(tree *RuleGroup) *RuleGroup {
	if tree == nil {
		return nil
	}
	return asGroup(simplifyNode(tree), tree.IsChild)
}

func asGroup(n Node, isChild bool) *RuleGroup {
	if g, ok := n.(*RuleGroup); ok && !g.Negated && g.Name == "" {
		return g
	}
	return &RuleGroup{Condition: And, Children: []Node{n}, IsChild: isChild}
}

func simplifyNode(n Node) Node {
	g, ok := n.(*RuleGroup)
	if !ok {
		r := n.(Rule)
		r.Value = r.Value.clone()
		return r
	}

	out := &RuleGroup{
		Condition: g.Condition,
		Negated:   g.Negated,
		Name:      g.Name,
		IsChild:   g.IsChild,
		Children:  make([]Node, 0, len(g.Children)),
	}
	for _, child := range g.Children {
		c := simplifyNode(child)
		if cg, ok := c.(*RuleGroup); ok && mergeable(cg, out.Condition) {
			out.Children = append(out.Children, cg.Children...)
			continue
		}
		out.Children = append(out.Children, c)
	}

	if out.Name != "" || len(out.Children) != 1 {
		return out
	}
	only := out.Children[0]
	if !out.Negated {
		return only
	}
	if !only.IsNegated() {
		return withNegation(only, true)
	}
	return out
}

func mergeable(g *RuleGroup, cond Condition) bool {
	return g.Name == "" && !g.Negated && g.Condition == cond && len(g.Children) > 0
}

// withNegation returns a shallow copy of n with its negation set to neg.
func withNegation(n Node, neg bool) Node {
	switch v := n.(type) {
	case Rule:
		v.Negated = neg
		return v
	case *RuleGroup:
		c := *v
		c.Negated = neg
		return &c
	}
	return n
}

// Inline drops the names of expanded references so the tree reads as plain
// conditions, then simplifies it. Unresolved references keep their names.
func Inline(tree *RuleGroup) *RuleGroup {
	if tree == nil {
		return nil
	}
	return Simplify(inlineGroup(tree))
}

func inlineGroup(g *RuleGroup) *RuleGroup {
	out := *g
	if len(g.Children) > 0 {
		out.Name = ""
	}
	out.Children = make([]Node, len(g.Children))
	for i, child := range g.Children {
		if cg, ok := child.(*RuleGroup); ok {
			out.Children[i] = inlineGroup(cg)
			continue
		}
		out.Children[i] = child
	}
	return &out
}

// ContainsNamedRule reports whether tree, or any node beneath it, is a
// reference to name, expanded or not.
func ContainsNamedRule(tree *RuleGroup, name string) bool {
	if tree == nil || name == "" {
		return false
	}
	found := false
	Walk(tree, func(n Node) bool {
		if found {
			return false
		}
		if g, ok := n.(*RuleGroup); ok && g.Name == name {
			found = true
			return false
		}
		return true
	})
	return found
}

// Matches reports whether tree is structurally equal to def once both are
// inlined and simplified. The editor uses it to decide whether an edited
// query still equals a stored one.
func Matches(tree, def *RuleGroup) bool {
	if tree == nil || def == nil {
		return tree == def
	}
	return Equal(Inline(tree), Inline(def))
}

// FoldNamed replaces every unnamed subtree of tree that is structurally
// equal to def with a reference to name carrying def's children. It is the
// converse of expanding name.
func FoldNamed(tree *RuleGroup, name string, def *RuleGroup) *RuleGroup {
	if tree == nil || def == nil || name == "" {
		return tree
	}
	target := Simplify(def)
	var targetNode Node = target
	if !target.Negated && len(target.Children) == 1 {
		targetNode = target.Children[0]
	}

	folded := foldNode(Simplify(tree), name, target, targetNode)
	return Simplify(asGroup(folded, tree.IsChild))
}

func foldNode(n Node, name string, target *RuleGroup, targetNode Node) Node {
	if Equal(n, targetNode) {
		return referenceTo(name, target, false)
	}
	if n.IsNegated() && !targetNode.IsNegated() && Equal(withNegation(n, false), targetNode) {
		return referenceTo(name, target, true)
	}

	g, ok := n.(*RuleGroup)
	if !ok || g.Name != "" {
		return n
	}
	out := *g
	out.Children = make([]Node, len(g.Children))
	for i, child := range g.Children {
		out.Children[i] = foldNode(child, name, target, targetNode)
	}
	return &out
}

func referenceTo(name string, def *RuleGroup, negated bool) *RuleGroup {
	body := def.Clone()
	ref := &RuleGroup{Name: name, Negated: negated, Condition: body.Condition, Children: body.Children}
	if body.Negated {
		ref.Condition = And
		ref.Children = []Node{body}
	}
	markChildren(ref)
	return ref
}

// markChildren sets IsChild on every descendant of g.
func markChildren(g *RuleGroup) {
	for i, child := range g.Children {
		switch c := child.(type) {
		case Rule:
			c.IsChild = true
			g.Children[i] = c
		case *RuleGroup:
			c.IsChild = true
			markChildren(c)
		}
	}
}
