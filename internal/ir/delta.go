package ir

import (
	"errors"
	"slices"
	"strings"
)

// ErrSealed is returned when a sealed DeltaBuilder is modified.
var ErrSealed = errors.New("delta builder is sealed")

// EntityDelta is a partial description of one entity produced from one
// record: an identifier, a schema and an ordered, deduplicated multi-map
// of property values. Values are reachable only through copies, so a
// delta cannot change after it was sealed.
type EntityDelta struct {
	id     string
	schema string
	order  []string
	values map[string][]string
}

// ID returns the entity identifier.
func (d EntityDelta) ID() string { return d.id }

// Schema returns the schema name.
func (d EntityDelta) Schema() string { return d.schema }

// Properties returns property names in first-added order.
func (d EntityDelta) Properties() []string { return slices.Clone(d.order) }

// Values returns the values of prop in first-added order.
func (d EntityDelta) Values(prop string) []string { return slices.Clone(d.values[prop]) }

// First returns the first value of prop, or "".
func (d EntityDelta) First(prop string) string {
	if vs := d.values[prop]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Len returns the number of (property, value) pairs.
func (d EntityDelta) Len() int {
	n := 0
	for _, vs := range d.values {
		n += len(vs)
	}
	return n
}

// IsZero reports whether d was never built.
func (d EntityDelta) IsZero() bool { return d.id == "" && d.schema == "" }

// ToMap returns the properties as a fresh map.
func (d EntityDelta) ToMap() map[string][]string {
	out := make(map[string][]string, len(d.values))
	for k, vs := range d.values {
		out[k] = slices.Clone(vs)
	}
	return out
}

// Merge combines two deltas about the same entity. d's schema and value
// order come first; other only contributes values d lacks.
func (d EntityDelta) Merge(other EntityDelta) (EntityDelta, error) {
	if d.id != other.id {
		return EntityDelta{}, errors.New("cannot merge deltas of different entities: " + d.id + " and " + other.id)
	}
	b := NewDeltaBuilder(d.id, d.schema)
	if b.schema == "" {
		b.schema = other.schema
	}
	for _, src := range []EntityDelta{d, other} {
		for _, prop := range src.order {
			if err := b.Add(prop, src.values[prop]...); err != nil {
				return EntityDelta{}, err
			}
		}
	}
	return b.Seal(), nil
}

// DeltaBuilder accumulates property values for one EntityDelta. It is
// single-use: after Seal every mutation returns ErrSealed.
type DeltaBuilder struct {
	id     string
	schema string
	order  []string
	values map[string][]string
	seen   map[string]map[string]struct{}
	sealed bool
}

// NewDeltaBuilder starts a delta for id with schema.
func NewDeltaBuilder(id, schema string) *DeltaBuilder {
	return &DeltaBuilder{
		id:     id,
		schema: schema,
		values: make(map[string][]string),
		seen:   make(map[string]map[string]struct{}),
	}
}

// Add appends values to prop. Blank values and values already present
// for prop are skipped. Surrounding whitespace is trimmed.
func (b *DeltaBuilder) Add(prop string, values ...string) error {
	if b.sealed {
		return ErrSealed
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen, ok := b.seen[prop]
		if !ok {
			seen = make(map[string]struct{})
			b.seen[prop] = seen
			b.order = append(b.order, prop)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		b.values[prop] = append(b.values[prop], v)
	}
	return nil
}

// Has reports whether prop has at least one value.
func (b *DeltaBuilder) Has(prop string) bool {
	return len(b.values[prop]) > 0
}

// Seal returns the finished delta. The builder cannot be used afterwards.
func (b *DeltaBuilder) Seal() EntityDelta {
	b.sealed = true
	values := make(map[string][]string, len(b.values))
	for k, vs := range b.values {
		values[k] = slices.Clone(vs)
	}
	return EntityDelta{
		id:     b.id,
		schema: b.schema,
		order:  slices.Clone(b.order),
		values: values,
	}
}
