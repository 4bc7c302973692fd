// Package mapper applies compiled plans to records.
//
// For every record the mapper evaluates each query's filters, then resolves
// the query's mappings in plan order. A mapping yields one entity delta, or
// an error describing why the entity was dropped:
//
//   - *IDError when the identifier parts are all empty
//   - *EntityError when a required property is empty
//   - *RecordError when a mapped field holds a nested value; the whole
//     record is skipped
//
// Custom transforms follow the same contract as Mapper.Transform, and
// Iterate drives either of them over a record stream.
package mapper

import (
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/compiler"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ids"
	"github.com/roach88/stitch/internal/ir"
)

// Runtime is what transforms use from the run context.
type Runtime interface {
	IDs() ids.Generator
	Logger() *zap.SugaredLogger
}

// Mapper is the default, plan-driven transform. It holds no per-record
// state and may be shared.
type Mapper struct {
	plan *compiler.Plan
}

// New returns a mapper for plan.
func New(plan *compiler.Plan) *Mapper {
	return &Mapper{plan: plan}
}

// Plan returns the compiled plan.
func (m *Mapper) Plan() *compiler.Plan { return m.plan }

// Transform maps rec, the ix-th record of its source. Deltas of one
// query are yielded in plan order. A *RecordError ends the sequence.
func (m *Mapper) Transform(rt Runtime, rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error] {
	return func(yield func(ir.EntityDelta, error) bool) {
		gen := rt.IDs()
		for _, q := range m.plan.Queries {
			ok, err := matches(q, rec, ix)
			if err != nil {
				yield(ir.EntityDelta{}, err)
				return
			}
			if !ok {
				continue
			}

			resolved := make(map[string]string, len(q.Mappings))
			for _, mp := range q.Mappings {
				delta, err := mapEntity(gen, mp, rec, ix, resolved)
				if err != nil {
					if errors.Is(err, errors.ErrRecord) {
						yield(ir.EntityDelta{}, err)
						return
					}
					if !yield(ir.EntityDelta{}, err) {
						return
					}
					continue
				}
				resolved[mp.Name] = delta.ID()
				if !yield(delta, nil) {
					return
				}
			}
		}
	}
}

// matches evaluates a query's filters. Every filters field must hold one
// of its values; no filters_not field may.
func matches(q compiler.QueryPlan, rec ir.Record, ix int) (bool, error) {
	for _, field := range q.Filters.Fields() {
		v, _, err := fieldValue(rec, ix, field)
		if err != nil {
			return false, err
		}
		if !q.Filters.Accepts(field, v) {
			return false, nil
		}
	}
	for _, field := range q.FiltersNot.Fields() {
		v, _, err := fieldValue(rec, ix, field)
		if err != nil {
			return false, err
		}
		if q.FiltersNot.Accepts(field, v) {
			return false, nil
		}
	}
	return true, nil
}

func mapEntity(gen ids.Generator, mp compiler.MappingPlan, rec ir.Record, ix int, resolved map[string]string) (ir.EntityDelta, error) {
	id, err := entityID(gen, mp, rec, ix)
	if err != nil {
		return ir.EntityDelta{}, err
	}

	b := ir.NewDeltaBuilder(id, mp.Schema)
	for _, pp := range mp.Properties {
		values, err := resolveProperty(pp, rec, ix, resolved)
		if err != nil {
			return ir.EntityDelta{}, err
		}
		if pp.Required && len(values) == 0 {
			return ir.EntityDelta{}, &EntityError{Index: ix, Mapping: mp.Name, Property: pp.Name}
		}
		if err := b.Add(pp.Name, values...); err != nil {
			return ir.EntityDelta{}, err
		}
	}
	return b.Seal(), nil
}

// entityID slugs the id column, or the key literal followed by the key
// values, under the generator prefix.
func entityID(gen ids.Generator, mp compiler.MappingPlan, rec ir.Record, ix int) (string, error) {
	var parts []string
	if mp.IDColumn != "" {
		v, _, err := fieldValue(rec, ix, mp.IDColumn)
		if err != nil {
			return "", err
		}
		parts = []string{v}
	} else {
		if mp.KeyLiteral != "" {
			parts = append(parts, mp.KeyLiteral)
		}
		for _, key := range mp.Keys {
			v, _, err := fieldValue(rec, ix, key)
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		}
	}

	id, err := gen.Slug(parts...)
	if err != nil {
		return "", &IDError{Index: ix, Mapping: mp.Name, Err: err}
	}
	return id, nil
}

func resolveProperty(pp compiler.PropertyPlan, rec ir.Record, ix int, resolved map[string]string) ([]string, error) {
	var values []string
	switch pp.Mode {
	case compiler.ModeColumn:
		v, ok, err := fieldValue(rec, ix, pp.Columns[0])
		if err != nil {
			return nil, err
		}
		if ok {
			values = []string{v}
		}
	case compiler.ModeColumns:
		var parts []string
		for _, col := range pp.Columns {
			v, ok, err := fieldValue(rec, ix, col)
			if err != nil {
				return nil, err
			}
			if ok {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			values = []string{strings.Join(parts, pp.Join)}
		}
	case compiler.ModeLiteral, compiler.ModeLiterals:
		values = append(values, pp.Literals...)
	case compiler.ModeTemplate:
		var fieldErr error
		out, ok := pp.Template.Render(func(field string) (string, bool) {
			v, ok, err := fieldValue(rec, ix, field)
			if err != nil {
				fieldErr = err
				return "", false
			}
			return v, ok
		})
		if fieldErr != nil {
			return nil, fieldErr
		}
		if ok {
			values = []string{out}
		}
	case compiler.ModeEntity:
		if id := resolved[pp.Entity]; id != "" {
			values = []string{id}
		}
	}

	if pp.Split != "" {
		values = split(values, pp.Split)
	}
	return nonEmpty(values), nil
}

func split(values []string, sep string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, sep)...)
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
