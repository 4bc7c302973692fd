// Package export writes merged entities and the dataset index.
//
// Entities are written as canonical JSON lines: sorted keys, no
// insignificant whitespace, property values in merged order. For a fixed
// statement set the output is byte-identical across runs and backends.
package export

import (
	"bufio"
	"context"
	"io"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// Index summarises an exported dataset.
type Index struct {
	Name        string
	Title       string
	Summary     string
	EntityCount int
	Schemata    map[string]int
	Countries   map[string]int
	UpdatedAt   time.Time // omitted when zero
}

// CanonicalMap returns the index as a canonical-encodable object.
func (idx Index) CanonicalMap() map[string]any {
	obj := map[string]any{
		"name":         idx.Name,
		"entity_count": idx.EntityCount,
		"schemata":     countsOrEmpty(idx.Schemata),
		"countries":    countsOrEmpty(idx.Countries),
	}
	if idx.Title != "" {
		obj["title"] = idx.Title
	}
	if idx.Summary != "" {
		obj["summary"] = idx.Summary
	}
	if !idx.UpdatedAt.IsZero() {
		obj["updated_at"] = idx.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return obj
}

func countsOrEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// Collector accumulates index statistics over exported entities.
type Collector struct {
	catalog   *schema.Catalog
	entities  int
	schemata  map[string]int
	countries map[string]int
}

// NewCollector returns a collector. A nil catalog uses schema.Default.
func NewCollector(catalog *schema.Catalog) *Collector {
	if catalog == nil {
		catalog = schema.Default()
	}
	return &Collector{
		catalog:   catalog,
		schemata:  make(map[string]int),
		countries: make(map[string]int),
	}
}

// Collect counts e.
func (c *Collector) Collect(e ir.MergedEntity) {
	c.entities++
	c.schemata[e.Schema]++
	for prop, values := range e.Properties {
		p, ok := c.catalog.Property(e.Schema, prop)
		if !ok || p.Type != schema.TypeCountry {
			continue
		}
		for _, v := range values {
			c.countries[v]++
		}
	}
}

// Index returns the statistics for ds.
func (c *Collector) Index(ds ir.Dataset) Index {
	return Index{
		Name:        ds.Name,
		Title:       ds.Title,
		Summary:     ds.Summary,
		EntityCount: c.entities,
		Schemata:    maps.Clone(c.schemata),
		Countries:   maps.Clone(c.countries),
	}
}

// Schemata returns the collected schema names sorted.
func (c *Collector) Schemata() []string {
	return slices.Sorted(maps.Keys(c.schemata))
}

// WriteEntities writes each entity as one canonical JSON line and feeds
// it to collect when non-nil. It stops at the first error from entities
// or from w and returns the number of lines written.
func WriteEntities(ctx context.Context, w io.Writer, entities iter.Seq2[ir.MergedEntity, error], collect *Collector) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for e, err := range entities {
		if err != nil {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line, err := ir.MarshalCanonical(e.CanonicalMap())
		if err != nil {
			return n, errors.Wrapf(err, "encode entity %s", e.ID)
		}
		if _, err := bw.Write(line); err != nil {
			return n, errors.Wrap(err, "write entity")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return n, errors.Wrap(err, "write entity")
		}
		if collect != nil {
			collect.Collect(e)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, errors.Wrap(err, "flush entities")
	}
	return n, nil
}

// WriteIndex writes idx as canonical JSON followed by a newline.
func WriteIndex(w io.Writer, idx Index) error {
	data, err := ir.MarshalCanonical(idx.CanonicalMap())
	if err != nil {
		return errors.Wrap(err, "encode index")
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write index")
	}
	return nil
}
