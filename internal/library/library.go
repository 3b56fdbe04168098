// Package library stores named queries and keeps references between them
// consistent when an entry is renamed or deleted.
//
// The pure functions Rename and Delete compute the rewritten library from a
// snapshot. Manager applies the same rewrites to a Store one entry at a time,
// so an interrupted cascade leaves every entry either fully old or fully new.
package library

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/gosimple/slug"

	"github.com/aidanlsb/bql/internal/bql"
)

// Library is a snapshot of the named-query library, keyed by name. It is
// request scoped: callers load one, use it, and drop it.
type Library map[string]*bql.RuleGroup

// Names returns the entry names in sorted order.
func (l Library) Names() []string {
	return slices.Sorted(maps.Keys(l))
}

// Key returns the lookup key for name. Two names with the same key cannot
// both be stored.
func Key(name string) string {
	return slug.Make(name)
}

// ValidateName checks that name can be stored and referenced.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q has leading or trailing whitespace", ErrInvalidName, name)
	case strings.ContainsFunc(name, unicode.IsControl):
		return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
	case Key(name) == "":
		return fmt.Errorf("%w: %q needs at least one letter or digit", ErrInvalidName, name)
	}
	return nil
}

// Dependents returns the sorted names of entries other than name whose tree
// references name.
func Dependents(lib Library, name string) []string {
	var deps []string
	for _, entry := range lib.Names() {
		if entry != name && bql.ContainsNamedRule(lib[entry], name) {
			deps = append(deps, entry)
		}
	}
	return deps
}

// conflicting returns an existing entry other than name that shares its key.
func conflicting(lib Library, name string) (string, bool) {
	key := Key(name)
	for _, other := range lib.Names() {
		if other != name && Key(other) == key {
			return other, true
		}
	}
	return "", false
}
