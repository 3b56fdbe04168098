package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/bql/internal/bql"
)

// FieldSpec declares one queryable field. In YAML it is either the type
// name alone or a mapping with type and values:
//
//	lname: string
//	status: {type: category, values: [active, pending, closed]}
type FieldSpec struct {
	Type   bql.FieldType `yaml:"type" json:"type"`
	Values []string      `yaml:"values,omitempty" json:"values,omitempty"`
}

// UnmarshalYAML accepts the scalar shorthand and the full mapping.
func (f *FieldSpec) UnmarshalYAML(value *yaml.Node) error {
	if f == nil {
		return fmt.Errorf("field spec is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		ft, err := bql.ParseFieldType(s)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*f = FieldSpec{Type: ft}
		return nil
	case yaml.MappingNode:
		type plain FieldSpec
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		ft, err := bql.ParseFieldType(string(p.Type))
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		p.Type = ft
		if len(p.Values) > 0 && ft != bql.FieldCategory {
			return fmt.Errorf("line %d: values are only allowed on category fields", value.Line)
		}
		*f = FieldSpec(p)
		return nil
	default:
		return fmt.Errorf("line %d: invalid field spec (expected type name or mapping)", value.Line)
	}
}

// Entity is the set of fields a query against one entity may use.
type Entity struct {
	Fields map[string]FieldSpec `yaml:"fields" json:"fields"`
}

// Types returns the field → type map the compiler checks against.
func (e *Entity) Types() bql.FieldTypes {
	types := make(bql.FieldTypes, len(e.Fields))
	for name, f := range e.Fields {
		types[name] = f.Type
	}
	return types
}

// FieldNames returns the entity's fields in sorted order.
func (e *Entity) FieldNames() []string {
	return slices.Sorted(maps.Keys(e.Fields))
}

// FieldSpecs is the parsed field-spec file.
type FieldSpecs struct {
	Entities map[string]*Entity `yaml:"entities" json:"entities"`
}

// LoadFields reads the field spec at path. A missing file yields an empty
// spec.
func LoadFields(path string) (*FieldSpecs, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &FieldSpecs{Entities: map[string]*Entity{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read field spec %s: %w", path, err)
	}
	specs, err := ParseFields(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// ParseFields parses field-spec YAML.
func ParseFields(data []byte) (*FieldSpecs, error) {
	var specs FieldSpecs
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if specs.Entities == nil {
		specs.Entities = map[string]*Entity{}
	}
	for name, e := range specs.Entities {
		if e == nil || len(e.Fields) == 0 {
			return nil, fmt.Errorf("%w: entity %q declares no fields", ErrInvalid, name)
		}
	}
	return &specs, nil
}

// EntityNames returns the declared entities in sorted order.
func (s *FieldSpecs) EntityNames() []string {
	return slices.Sorted(maps.Keys(s.Entities))
}

// Entity returns the named entity. An empty name selects the only entity
// when exactly one is declared.
func (s *FieldSpecs) Entity(name string) (*Entity, error) {
	if name == "" {
		if len(s.Entities) == 1 {
			for _, e := range s.Entities {
				return e, nil
			}
		}
		return nil, fmt.Errorf("%w: no entity selected (declared: %v)", ErrInvalid, s.EntityNames())
	}
	e, ok := s.Entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity %q (declared: %v)", ErrInvalid, name, s.EntityNames())
	}
	return e, nil
}
