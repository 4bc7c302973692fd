// Package compiler turns declarative query definitions into execution plans.
//
// Compile validates every entity and property mapping against the schema
// catalog and collects all problems before returning. A successful plan
// lists each query's mappings in dependency order: a mapping referenced
// through an entity property comes before the mapping referencing it, and
// independent mappings keep their declaration order.
//
// Plans are immutable once compiled and safe for concurrent read-only use.
package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/schema"
)

// Mode is the resolution mode of a property.
type Mode int

const (
	ModeColumn Mode = iota + 1
	ModeColumns
	ModeLiteral
	ModeLiterals
	ModeTemplate
	ModeEntity
)

var modeNames = map[string]Mode{
	"column":   ModeColumn,
	"columns":  ModeColumns,
	"literal":  ModeLiteral,
	"literals": ModeLiterals,
	"template": ModeTemplate,
	"entity":   ModeEntity,
}

var modeStrings = [...]string{"", "column", "columns", "literal", "literals", "template", "entity"}

func (m Mode) String() string {
	if m > 0 && int(m) < len(modeStrings) {
		return modeStrings[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Plan is a compiled set of queries. Its fields must not be modified.
type Plan struct {
	Queries []QueryPlan
}

// Mappings returns the total number of entity mappings.
func (p *Plan) Mappings() int {
	n := 0
	for _, q := range p.Queries {
		n += len(q.Mappings)
	}
	return n
}

// QueryPlan is one compiled query.
type QueryPlan struct {
	Index      int
	Filters    config.Filters
	FiltersNot config.Filters
	Mappings   []MappingPlan // dependency order
}

// MappingPlan builds one entity per record.
type MappingPlan struct {
	Name       string
	Schema     string
	Keys       []string
	KeyLiteral string
	IDColumn   string
	Properties []PropertyPlan // declaration order
}

// PropertyPlan resolves the values of one property.
type PropertyPlan struct {
	Name     string
	Mode     Mode
	Columns  []string // column and columns modes
	Join     string
	Literals []string // literal and literals modes
	Template *Template
	Entity   string
	Split    string
	Required bool
}

// Compile compiles queries against catalog.
func Compile(queries []config.QueryDefinition, catalog *schema.Catalog) (*Plan, error) {
	if catalog == nil {
		return nil, CompileErrors{{Field: "catalog", Message: "no schema catalog", Code: ErrCatalogMissing}}
	}

	var errs CompileErrors
	plan := &Plan{Queries: make([]QueryPlan, 0, len(queries))}
	for i, q := range queries {
		qp, qerrs := compileQuery(i, q, catalog)
		errs = append(errs, qerrs...)
		plan.Queries = append(plan.Queries, qp)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return plan, nil
}

func compileQuery(ix int, q config.QueryDefinition, catalog *schema.Catalog) (QueryPlan, CompileErrors) {
	var errs CompileErrors
	prefix := fmt.Sprintf("queries[%d]", ix)

	qp := QueryPlan{Index: ix, Filters: q.Filters, FiltersNot: q.FiltersNot}
	if len(q.Entities) == 0 {
		errs = append(errs, CompileError{
			Field:   prefix + ".entities",
			Message: "query must declare at least one entity",
			Code:    ErrQueryEmpty,
		})
		return qp, errs
	}

	byName := make(map[string]MappingPlan, len(q.Entities))
	order := q.Entities.Names()
	graph := make(dependencyGraph, len(order))

	for _, em := range q.Entities {
		mp, merrs := compileMapping(prefix, em, q.Entities, catalog)
		errs = append(errs, merrs...)
		byName[em.Name] = mp
		graph[em.Name] = []string{}
		for _, prop := range em.Properties {
			if _, ok := q.Entities.Get(prop.Entity); ok && prop.Entity != "" {
				graph[em.Name] = append(graph[em.Name], prop.Entity)
			}
		}
	}

	cycles := findCycles(order, graph)
	for _, path := range cycles {
		errs = append(errs, CompileError{
			Field:   fmt.Sprintf("%s.entities.%s", prefix, path[0]),
			Message: "cyclic entity reference: " + strings.Join(path, " -> "),
			Code:    ErrEntityCycle,
			Path:    path,
		})
	}
	if len(errs) > 0 {
		return qp, errs
	}

	for _, name := range topoSort(order, graph) {
		qp.Mappings = append(qp.Mappings, byName[name])
	}
	return qp, nil
}

func compileMapping(prefix string, em config.EntityMapping, all config.Mappings, catalog *schema.Catalog) (MappingPlan, CompileErrors) {
	var errs CompileErrors
	field := fmt.Sprintf("%s.entities.%s", prefix, em.Name)

	mp := MappingPlan{
		Name:       em.Name,
		Schema:     em.Schema,
		Keys:       slices.Clone([]string(em.Keys)),
		KeyLiteral: em.KeyLiteral,
		IDColumn:   em.IDColumn,
	}

	knownSchema := false
	switch s, ok := catalog.Get(em.Schema); {
	case strings.TrimSpace(em.Schema) == "":
		errs = append(errs, CompileError{Field: field + ".schema", Message: "schema is required", Code: ErrSchemaMissing, Line: em.Line})
	case !ok:
		errs = append(errs, CompileError{Field: field + ".schema", Message: fmt.Sprintf("unknown schema %q", em.Schema), Code: ErrSchemaUnknown, Line: em.Line})
	case s.Abstract:
		errs = append(errs, CompileError{Field: field + ".schema", Message: fmt.Sprintf("schema %q is abstract", em.Schema), Code: ErrSchemaAbstract, Line: em.Line})
	default:
		knownSchema = true
	}

	if len(em.Keys) == 0 && em.KeyLiteral == "" && em.IDColumn == "" {
		errs = append(errs, CompileError{
			Field:   field,
			Message: "one of keys, key_literal or id_column is required",
			Code:    ErrMissingKeys,
			Line:    em.Line,
		})
	}

	for _, pm := range em.Properties {
		pp, perrs := compileProperty(field+".properties."+pm.Name, em.Schema, knownSchema, pm, all, catalog)
		errs = append(errs, perrs...)
		mp.Properties = append(mp.Properties, pp)
	}
	return mp, errs
}

func compileProperty(field, schemaName string, knownSchema bool, pm config.PropertyMapping, all config.Mappings, catalog *schema.Catalog) (PropertyPlan, CompileErrors) {
	var errs CompileErrors
	pp := PropertyPlan{
		Name:     pm.Name,
		Join:     pm.JoinWith(),
		Split:    pm.Split,
		Required: pm.Required,
	}

	var def schema.Property
	if knownSchema {
		var ok bool
		if def, ok = catalog.Property(schemaName, pm.Name); !ok {
			errs = append(errs, CompileError{
				Field:   field,
				Message: fmt.Sprintf("schema %s has no property %q", schemaName, pm.Name),
				Code:    ErrPropertyUnknown,
				Line:    pm.Line,
			})
			knownSchema = false
		}
	}

	modes := pm.Modes()
	switch len(modes) {
	case 0:
		errs = append(errs, CompileError{Field: field, Message: "no resolution mode set", Code: ErrPropertyNoMode, Line: pm.Line})
		return pp, errs
	case 1:
	default:
		errs = append(errs, CompileError{
			Field:   field,
			Message: "multiple resolution modes set: " + strings.Join(modes, ", "),
			Code:    ErrPropertyMultiModes,
			Line:    pm.Line,
		})
		return pp, errs
	}

	pp.Mode = modeNames[modes[0]]
	switch pp.Mode {
	case ModeColumn:
		pp.Columns = []string{pm.Column}
	case ModeColumns:
		pp.Columns = slices.Clone([]string(pm.Columns))
	case ModeLiteral:
		pp.Literals = []string{*pm.Literal}
	case ModeLiterals:
		pp.Literals = slices.Clone([]string(pm.Literals))
	case ModeTemplate:
		tmpl, err := ParseTemplate(pm.Template)
		if err != nil {
			errs = append(errs, CompileError{Field: field + ".template", Message: err.Error(), Code: ErrTemplateMalformed, Line: pm.Line})
		}
		pp.Template = tmpl
	case ModeEntity:
		pp.Entity = pm.Entity
		target, ok := all.Get(pm.Entity)
		if !ok {
			errs = append(errs, CompileError{
				Field:   field + ".entity",
				Message: fmt.Sprintf("reference to unknown entity mapping %q", pm.Entity),
				Code:    ErrEntityRefUnknown,
				Line:    pm.Line,
			})
			break
		}
		if !knownSchema {
			break
		}
		if def.Type != schema.TypeEntity {
			errs = append(errs, CompileError{
				Field:   field + ".entity",
				Message: fmt.Sprintf("property %q has type %s, not entity", pm.Name, def.Type),
				Code:    ErrEntityRefType,
				Line:    pm.Line,
			})
			break
		}
		if def.Range != "" && catalog.Has(target.Schema) && !catalog.IsA(target.Schema, def.Range) {
			errs = append(errs, CompileError{
				Field:   field + ".entity",
				Message: fmt.Sprintf("mapping %q has schema %s, property %q expects %s", pm.Entity, target.Schema, pm.Name, def.Range),
				Code:    ErrEntityRefRange,
				Line:    pm.Line,
			})
		}
	}
	return pp, errs
}
