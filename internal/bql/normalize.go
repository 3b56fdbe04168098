package bql

import "slices"

// NormalizeOptions configures Normalize.
type NormalizeOptions struct {
	MaxDepth int // 0 means DefaultMaxDepth
}

// Normalize expands every named reference in tree using names. Expanded
// subtrees keep the reference's name and are marked IsChild. References to
// names missing from the map are left unexpanded; use Unresolved to list
// them. The input tree is not modified.
func Normalize(tree *RuleGroup, names map[string]*RuleGroup) (*RuleGroup, error) {
	return NormalizeWithOptions(tree, names, NormalizeOptions{})
}

// NormalizeWithOptions is Normalize with explicit options.
func NormalizeWithOptions(tree *RuleGroup, names map[string]*RuleGroup, opts NormalizeOptions) (*RuleGroup, error) {
	if tree == nil {
		return nil, nil
	}
	r := &resolver{names: names, guard: newDepthGuard(opts.MaxDepth)}
	return r.group(tree, false)
}

// NormalizeNamed returns the expansion of the library entry name, treating
// name itself as being expanded so that self-references are reported.
func NormalizeNamed(name string, names map[string]*RuleGroup) (*RuleGroup, error) {
	def, ok := names[name]
	if !ok {
		return nil, &UnresolvedNameError{Name: name}
	}
	r := &resolver{names: names, guard: newDepthGuard(0), stack: []string{name}}
	return r.body(def, false)
}

// Unresolved lists the references in tree that have no expansion, in order
// of first appearance.
func Unresolved(tree *RuleGroup) []*UnresolvedNameError {
	if tree == nil {
		return nil
	}
	var out []*UnresolvedNameError
	seen := make(map[string]bool)
	Walk(tree, func(n Node) bool {
		if g, ok := n.(*RuleGroup); ok && g.IsUnresolved() && !seen[g.Name] {
			seen[g.Name] = true
			out = append(out, &UnresolvedNameError{Name: g.Name})
		}
		return true
	})
	return out
}

// resolver carries the request-scoped expansion stack.
type resolver struct {
	names map[string]*RuleGroup
	stack []string
	guard *depthGuard
}

func (r *resolver) group(g *RuleGroup, inChild bool) (*RuleGroup, error) {
	if err := r.guard.enter(); err != nil {
		return nil, err
	}
	defer r.guard.leave()

	if g.Name == "" {
		return r.body(g, inChild)
	}

	def, ok := r.names[g.Name]
	if !ok {
		// Unknown name: keep whatever children it already has.
		out, err := r.body(g, inChild)
		if err != nil {
			return nil, err
		}
		out.Name = g.Name
		out.Negated = g.Negated
		return out, nil
	}

	if slices.Contains(r.stack, g.Name) {
		chain := append(slices.Clone(r.stack), g.Name)
		return nil, &CyclicReferenceError{Name: g.Name, Chain: chain}
	}
	r.stack = append(r.stack, g.Name)
	expanded, err := r.body(def, true)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return nil, err
	}

	out := &RuleGroup{
		Condition: expanded.Condition,
		Negated:   g.Negated,
		Name:      g.Name,
		IsChild:   inChild || g.IsChild,
		Children:  expanded.Children,
	}
	if expanded.Negated {
		expanded.IsChild = true
		out.Condition = And
		out.Children = []Node{expanded}
	}
	return out, nil
}

// body normalizes the children of g into a new unnamed group.
func (r *resolver) body(g *RuleGroup, inChild bool) (*RuleGroup, error) {
	out := &RuleGroup{
		Condition: g.Condition,
		Negated:   g.Negated,
		IsChild:   inChild || g.IsChild,
		Children:  make([]Node, 0, len(g.Children)),
	}
	for _, child := range g.Children {
		switch c := child.(type) {
		case Rule:
			c.Value = c.Value.clone()
			c.IsChild = inChild || c.IsChild
			out.Children = append(out.Children, c)
		case *RuleGroup:
			n, err := r.group(c, inChild)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, n)
		}
	}
	return out, nil
}
