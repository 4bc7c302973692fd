// Package schema holds the schema catalog: the entity types a dataset may
// emit, their properties and the inheritance graph between them.
//
// The catalog is supplied from outside the pipeline as YAML. Schemas form
// a directed acyclic graph through extends; a schema inherits every
// property of its ancestors. Merge only asks the graph one question,
// IsAncestorOf.
package schema

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/errors"
)

// DefaultRef names the embedded catalog in dataset configuration.
const DefaultRef = "default"

//go:embed default.yaml
var defaultYAML []byte

// PropertyType is the value type of a property.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeName       PropertyType = "name"
	TypeText       PropertyType = "text"
	TypeDate       PropertyType = "date"
	TypeCountry    PropertyType = "country"
	TypeURL        PropertyType = "url"
	TypeEmail      PropertyType = "email"
	TypePhone      PropertyType = "phone"
	TypeIdentifier PropertyType = "identifier"
	TypeNumber     PropertyType = "number"
	TypeAddress    PropertyType = "address"
	TypeEntity     PropertyType = "entity"
)

var validTypes = map[PropertyType]bool{
	TypeString: true, TypeName: true, TypeText: true, TypeDate: true,
	TypeCountry: true, TypeURL: true, TypeEmail: true, TypePhone: true,
	TypeIdentifier: true, TypeNumber: true, TypeAddress: true, TypeEntity: true,
}

// Property describes one property of a schema.
type Property struct {
	Name   string       `yaml:"-" json:"name"`
	Schema string       `yaml:"-" json:"schema"` // declaring schema
	Type   PropertyType `yaml:"type" json:"type"`
	Single bool         `yaml:"single" json:"single,omitempty"`
	Range  string       `yaml:"range" json:"range,omitempty"` // target schema of entity properties
}

// Schema is one entity type.
type Schema struct {
	Name     string   `json:"name"`
	Abstract bool     `json:"abstract,omitempty"`
	Extends  []string `json:"extends,omitempty"`
}

type schemaFile struct {
	Abstract   bool                `yaml:"abstract"`
	Extends    []string            `yaml:"extends"`
	Properties map[string]Property `yaml:"properties"`
}

type catalogFile struct {
	Version string                `yaml:"version"`
	Schemas map[string]schemaFile `yaml:"schemas"`
}

// Catalog is an immutable, validated schema graph. It is safe for
// concurrent use.
type Catalog struct {
	version   string
	schemas   map[string]Schema
	ancestors map[string]map[string]bool
	props     map[string]map[string]Property
}

// Load parses and validates a catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode schema catalog"), errors.ErrConfig)
	}
	return build(doc)
}

// LoadFile loads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open schema catalog %s", path), errors.ErrConfig)
	}
	defer f.Close()
	return Load(f)
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Load(bytes.NewReader(defaultYAML))
})

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic("schema: embedded catalog is invalid: " + err.Error())
	}
	return c
}

// Resolve returns the catalog a dataset refers to: the embedded one for
// "" or DefaultRef, otherwise the file at ref.
func Resolve(ref string) (*Catalog, error) {
	if ref == "" || ref == DefaultRef {
		return Default(), nil
	}
	return LoadFile(ref)
}

func build(doc catalogFile) (*Catalog, error) {
	if len(doc.Schemas) == 0 {
		return nil, errors.Mark(errors.New("schema catalog defines no schemas"), errors.ErrConfig)
	}

	c := &Catalog{
		version:   doc.Version,
		schemas:   make(map[string]Schema, len(doc.Schemas)),
		ancestors: make(map[string]map[string]bool, len(doc.Schemas)),
		props:     make(map[string]map[string]Property, len(doc.Schemas)),
	}

	for name, sf := range doc.Schemas {
		for _, parent := range sf.Extends {
			if _, ok := doc.Schemas[parent]; !ok {
				return nil, errors.Mark(
					errors.Newf("schema %s extends unknown schema %s", name, parent),
					errors.ErrConfig)
			}
		}
		for pname, p := range sf.Properties {
			if !validTypes[p.Type] {
				return nil, errors.Mark(
					errors.Newf("schema %s property %s has unknown type %q", name, pname, p.Type),
					errors.ErrConfig)
			}
			if p.Range != "" {
				if _, ok := doc.Schemas[p.Range]; !ok {
					return nil, errors.Mark(
						errors.Newf("schema %s property %s ranges over unknown schema %s", name, pname, p.Range),
						errors.ErrConfig)
				}
			}
		}
		c.schemas[name] = Schema{Name: name, Abstract: sf.Abstract, Extends: slices.Clone(sf.Extends)}
	}

	// Resolve each schema depth first; visiting marks catch extends cycles.
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(doc.Schemas))

	var resolve func(name string, path []string) error
	resolve = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.Mark(
				errors.Newf("schema inheritance cycle: %v", append(path, name)),
				errors.ErrConfig)
		}
		state[name] = visiting

		sf := doc.Schemas[name]
		next := append(slices.Clone(path), name)
		anc := make(map[string]bool)
		props := make(map[string]Property)
		for _, parent := range sf.Extends {
			if err := resolve(parent, next); err != nil {
				return err
			}
			anc[parent] = true
			for a := range c.ancestors[parent] {
				anc[a] = true
			}
			// Earlier parents win over later ones.
			for pname, p := range c.props[parent] {
				if _, seen := props[pname]; !seen {
					props[pname] = p
				}
			}
		}
		for pname, p := range sf.Properties {
			p.Name = pname
			p.Schema = name
			props[pname] = p
		}

		c.ancestors[name] = anc
		c.props[name] = props
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(doc.Schemas))
	for name := range doc.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := resolve(name, nil); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Version returns the catalog version string.
func (c *Catalog) Version() string { return c.version }

// Names returns all schema names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named schema.
func (c *Catalog) Get(name string) (Schema, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

// Has reports whether the catalog defines name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.schemas[name]
	return ok
}

// IsAncestorOf reports whether ancestor is a strict ancestor of schema.
func (c *Catalog) IsAncestorOf(ancestor, schema string) bool {
	return c.ancestors[schema][ancestor]
}

// IsA reports whether schema is other or descends from it.
func (c *Catalog) IsA(schema, other string) bool {
	return schema == other || c.IsAncestorOf(other, schema)
}

// Comparable reports whether a and b lie on one ancestor chain.
func (c *Catalog) Comparable(a, b string) bool {
	return c.IsA(a, b) || c.IsA(b, a)
}

// MostSpecific returns the most specific of schemas when they all lie on
// one ancestor chain. It returns false when any two are incomparable or
// unknown.
func (c *Catalog) MostSpecific(schemas ...string) (string, bool) {
	if len(schemas) == 0 {
		return "", false
	}
	best := schemas[0]
	if !c.Has(best) {
		return "", false
	}
	for _, s := range schemas[1:] {
		if !c.Has(s) {
			return "", false
		}
		switch {
		case c.IsA(s, best):
			best = s
		case c.IsA(best, s):
		default:
			return "", false
		}
	}
	return best, true
}

// Property returns the definition of prop on schema, inherited or own.
func (c *Catalog) Property(schema, prop string) (Property, bool) {
	p, ok := c.props[schema][prop]
	return p, ok
}

// Properties returns every property of schema sorted by name.
func (c *Catalog) Properties(schema string) []Property {
	props := make([]Property, 0, len(c.props[schema]))
	for _, p := range c.props[schema] {
		props = append(props, p)
	}
	slices.SortFunc(props, func(a, b Property) int {
		return strings.Compare(a.Name, b.Name)
	})
	return props
}

// IsSingle reports whether prop is declared single-valued on schema.
func (c *Catalog) IsSingle(schema, prop string) bool {
	return c.props[schema][prop].Single
}
