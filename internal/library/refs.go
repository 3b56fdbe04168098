package library

import (
	"fmt"
	"maps"

	"github.com/aidanlsb/bql/internal/bql"
)

// Rename returns a copy of lib where oldName is stored as newName and every
// dependent references newName instead. In strict mode a rename that would
// touch dependents fails with *StillReferencedError. The input is not modified.
func Rename(oldName, newName string, lib Library, strict bool) (Library, error) {
	if _, err := checkRename(lib, oldName, newName, ""); err != nil {
		return nil, err
	}
	deps := Dependents(lib, oldName)
	if strict && len(deps) > 0 {
		return nil, &StillReferencedError{Name: oldName, Dependents: deps}
	}

	out := maps.Clone(lib)
	if oldName == newName {
		return out, nil
	}
	out[newName] = lib[oldName].Clone()
	delete(out, oldName)
	for _, dep := range deps {
		out[dep] = RenameReferences(lib[dep], oldName, newName)
	}
	return out, nil
}

// Delete returns a copy of lib without name, where every dependent has the
// reference to name replaced by name's current expansion. In strict mode a
// delete with dependents fails with *StillReferencedError.
func Delete(name string, lib Library, strict bool) (Library, error) {
	if _, ok := lib[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNameNotFound, name)
	}
	deps := Dependents(lib, name)
	if strict && len(deps) > 0 {
		return nil, &StillReferencedError{Name: name, Dependents: deps}
	}

	out := maps.Clone(lib)
	delete(out, name)
	if len(deps) == 0 {
		return out, nil
	}
	expansion, err := bql.NormalizeNamed(name, lib)
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", name, err)
	}
	for _, dep := range deps {
		out[dep] = InlineReference(lib[dep], name, expansion)
	}
	return out, nil
}

// checkRename validates a rename. marker is the RenamedFrom recorded on the
// stored newName entry, if any. It reports resumed when marker is oldName,
// which is the state an interrupted rename leaves behind. Any other existing
// newName is a conflict, even one holding the same query.
func checkRename(lib Library, oldName, newName, marker string) (resumed bool, err error) {
	if _, ok := lib[newName]; ok && oldName != newName && marker == oldName {
		return true, nil
	}
	if _, ok := lib[oldName]; !ok {
		return false, fmt.Errorf("%w: %q", ErrNameNotFound, oldName)
	}
	if err := ValidateName(newName); err != nil {
		return false, err
	}
	if oldName == newName {
		return false, nil
	}
	if _, ok := lib[newName]; ok {
		return false, fmt.Errorf("%w: %q", ErrNameExists, newName)
	}
	if other, ok := conflicting(lib, newName); ok && other != oldName {
		return false, fmt.Errorf("%w: %q has the same key as %q", ErrNameExists, newName, other)
	}
	return false, nil
}

// RenameReferences returns a copy of tree with every group named oldName
// renamed to newName, expanded or not.
func RenameReferences(tree *bql.RuleGroup, oldName, newName string) *bql.RuleGroup {
	out := tree.Clone()
	renameIn(out, oldName, newName)
	return out
}

func renameIn(g *bql.RuleGroup, oldName, newName string) {
	if g.Name == oldName {
		g.Name = newName
	}
	for _, child := range g.Children {
		if cg, ok := child.(*bql.RuleGroup); ok {
			renameIn(cg, oldName, newName)
		}
	}
}

// InlineReference returns a simplified copy of tree where every reference
// to name is replaced by expansion with the name cleared. The negation of
// each reference is kept.
func InlineReference(tree *bql.RuleGroup, name string, expansion *bql.RuleGroup) *bql.RuleGroup {
	out, _ := inlineIn(tree.Clone(), name, expansion).(*bql.RuleGroup)
	return bql.Simplify(out)
}

func inlineIn(n bql.Node, name string, expansion *bql.RuleGroup) bql.Node {
	g, ok := n.(*bql.RuleGroup)
	if !ok {
		return n
	}
	if g.Name == name {
		body := expansion.Clone()
		repl := &bql.RuleGroup{Condition: body.Condition, Negated: g.Negated, Children: body.Children}
		if body.Negated {
			body.Name = ""
			repl = &bql.RuleGroup{Condition: bql.And, Negated: g.Negated, Children: []bql.Node{body}}
		}
		return repl
	}
	for i, child := range g.Children {
		g.Children[i] = inlineIn(child, name, expansion)
	}
	return g
}
