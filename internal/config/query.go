package config

import (
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/errors"
)

// DefaultJoin separates the values of a columns mapping.
const DefaultJoin = " "

// QueryDefinition maps one record to a set of related entities.
type QueryDefinition struct {
	Entities   Mappings `yaml:"entities" json:"entities"`
	Filters    Filters  `yaml:"filters" json:"filters,omitempty"`
	FiltersNot Filters  `yaml:"filters_not" json:"filters_not,omitempty"`
}

// Mappings is the ordered set of entity mappings of a query. Declaration
// order is kept: it orders independent mappings in the compiled plan.
type Mappings []EntityMapping

// Get returns the named mapping.
func (m Mappings) Get(name string) (EntityMapping, bool) {
	for _, em := range m {
		if em.Name == name {
			return em, true
		}
	}
	return EntityMapping{}, false
}

// Names returns mapping names in declaration order.
func (m Mappings) Names() []string {
	names := make([]string, len(m))
	for i, em := range m {
		names[i] = em.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping node keeping key order.
func (m *Mappings) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Newf("line %d: entities must be a mapping", node.Line)
	}
	out := make(Mappings, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var em EntityMapping
		if err := node.Content[i+1].Decode(&em); err != nil {
			return err
		}
		em.Name = node.Content[i].Value
		em.Line = node.Content[i].Line
		out = append(out, em)
	}
	*m = out
	return nil
}

// EntityMapping describes how one entity is built from a record.
type EntityMapping struct {
	Name       string     `yaml:"-" json:"-"`
	Line       int        `yaml:"-" json:"-"`
	Schema     string     `yaml:"schema" json:"schema"`
	Keys       StringList `yaml:"keys" json:"keys,omitempty"`
	KeyLiteral string     `yaml:"key_literal" json:"key_literal,omitempty"`
	IDColumn   string     `yaml:"id_column" json:"id_column,omitempty"`
	Properties Properties `yaml:"properties" json:"properties,omitempty"`
}

// Properties is the ordered set of property mappings of an entity.
type Properties []PropertyMapping

// UnmarshalYAML decodes a mapping node keeping key order.
func (p *Properties) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Newf("line %d: properties must be a mapping", node.Line)
	}
	out := make(Properties, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var pm PropertyMapping
		if err := node.Content[i+1].Decode(&pm); err != nil {
			return err
		}
		pm.Name = node.Content[i].Value
		pm.Line = node.Content[i].Line
		out = append(out, pm)
	}
	*p = out
	return nil
}

// PropertyMapping resolves the values of one property. Exactly one of
// Column, Columns, Literal, Literals, Template or Entity must be set.
type PropertyMapping struct {
	Name     string     `yaml:"-" json:"-"`
	Line     int        `yaml:"-" json:"-"`
	Column   string     `yaml:"column" json:"column,omitempty"`
	Columns  StringList `yaml:"columns" json:"columns,omitempty"`
	Join     *string    `yaml:"join" json:"join,omitempty"`
	Split    string     `yaml:"split" json:"split,omitempty"`
	Entity   string     `yaml:"entity" json:"entity,omitempty"`
	Literal  *string    `yaml:"literal" json:"literal,omitempty"`
	Literals StringList `yaml:"literals" json:"literals,omitempty"`
	Template string     `yaml:"template" json:"template,omitempty"`
	Required bool       `yaml:"required" json:"required,omitempty"`
}

// Modes returns the resolution modes set on the mapping.
func (p PropertyMapping) Modes() []string {
	var modes []string
	if p.Column != "" {
		modes = append(modes, "column")
	}
	if len(p.Columns) > 0 {
		modes = append(modes, "columns")
	}
	if p.Literal != nil {
		modes = append(modes, "literal")
	}
	if len(p.Literals) > 0 {
		modes = append(modes, "literals")
	}
	if p.Template != "" {
		modes = append(modes, "template")
	}
	if p.Entity != "" {
		modes = append(modes, "entity")
	}
	return modes
}

// JoinWith returns the columns separator.
func (p PropertyMapping) JoinWith() string {
	if p.Join != nil {
		return *p.Join
	}
	return DefaultJoin
}

// StringList accepts a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML decodes "a" and ["a", "b"] alike.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	values, err := scalars(node)
	if err != nil {
		return err
	}
	*s = values
	return nil
}

// Filters are equality predicates on raw record fields. Each field lists
// the accepted values; a record matches a field when its value equals any.
type Filters map[string][]string

// UnmarshalYAML decodes {field: value} and {field: [v1, v2]}.
func (f *Filters) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Newf("line %d: filters must be a mapping", node.Line)
	}
	out := make(Filters, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		values, err := scalars(node.Content[i+1])
		if err != nil {
			return err
		}
		out[node.Content[i].Value] = values
	}
	*f = out
	return nil
}

// Fields returns the filtered field names, sorted.
func (f Filters) Fields() []string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Accepts reports whether value is listed for field.
func (f Filters) Accepts(field, value string) bool {
	return slices.Contains(f[field], value)
}

func scalars(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, errors.Newf("line %d: expected a scalar value", item.Line)
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, errors.Newf("line %d: expected a scalar or a list of scalars", node.Line)
	}
}
