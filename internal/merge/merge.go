package merge

import (
	"cmp"
	"context"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/store"
)

// Aggregator merges entities read from a store.
type Aggregator struct {
	store   store.Store
	catalog *schema.Catalog
	diag    *Diagnostics
	log     *zap.SugaredLogger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDiagnostics sends conflicts to d.
func WithDiagnostics(d *Diagnostics) Option {
	return func(a *Aggregator) { a.diag = d }
}

// WithLogger logs conflicts at warn level.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *Aggregator) { a.log = log }
}

// New returns an aggregator over s. A nil catalog uses schema.Default.
func New(s store.Store, catalog *schema.Catalog, opts ...Option) *Aggregator {
	if catalog == nil {
		catalog = schema.Default()
	}
	a := &Aggregator{store: s, catalog: catalog, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Merge reads and merges one entity. An id without statements returns an
// error matching errors.ErrEntity.
func (a *Aggregator) Merge(ctx context.Context, id string) (ir.MergedEntity, error) {
	stmts, err := a.store.Get(ctx, id)
	if err != nil {
		return ir.MergedEntity{}, errors.Wrapf(err, "merge %s", id)
	}
	if len(stmts) == 0 {
		return ir.MergedEntity{}, errors.Mark(errors.Newf("entity %s has no statements", id), errors.ErrEntity)
	}
	e := Statements(a.catalog, id, stmts)
	a.report(e)
	return e, nil
}

// Iterate merges every entity in the store in id order.
func (a *Aggregator) Iterate(ctx context.Context) iter.Seq2[ir.MergedEntity, error] {
	return func(yield func(ir.MergedEntity, error) bool) {
		for id, err := range a.store.Scan(ctx) {
			if err != nil {
				yield(ir.MergedEntity{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(ir.MergedEntity{}, err)
				return
			}
			e, err := a.Merge(ctx, id)
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

func (a *Aggregator) report(e ir.MergedEntity) {
	for _, c := range e.Conflicts {
		a.log.Warnw("merge conflict",
			"entity", c.EntityID,
			"kind", string(c.Kind),
			"property", c.Property,
			"kept", c.Kept,
			"rejected", c.Rejected,
		)
	}
	a.diag.Add(e.Conflicts...)
}

// Statements merges the statements of entity id. stmts is not modified.
func Statements(catalog *schema.Catalog, id string, stmts []ir.Statement) ir.MergedEntity {
	sorted := slices.Clone(stmts)
	ir.SortStatements(sorted)

	e := ir.MergedEntity{ID: id, Properties: make(map[string][]string)}

	var conflict *ir.Conflict
	e.Schema, conflict = resolveSchema(catalog, id, sorted)
	if conflict != nil {
		e.Conflicts = append(e.Conflicts, *conflict)
	}

	datasets := make(map[string]bool)
	seen := make(map[string]map[string]bool)
	for _, st := range sorted {
		datasets[st.Dataset] = true
		if st.Property == ir.IDProperty {
			continue
		}
		if seen[st.Property] == nil {
			seen[st.Property] = make(map[string]bool)
		}
		if seen[st.Property][st.Value] {
			continue
		}
		seen[st.Property][st.Value] = true
		e.Properties[st.Property] = append(e.Properties[st.Property], st.Value)
	}

	props := make([]string, 0, len(e.Properties))
	for p := range e.Properties {
		props = append(props, p)
	}
	slices.Sort(props)
	for _, p := range props {
		values := e.Properties[p]
		if len(values) > 1 && catalog.IsSingle(e.Schema, p) {
			e.Properties[p] = values[:1]
			e.Conflicts = append(e.Conflicts, ir.Conflict{
				Kind:     ir.PropertyConflict,
				EntityID: id,
				Property: p,
				Kept:     values[0],
				Rejected: slices.Clone(values[1:]),
			})
		}
	}

	e.Datasets = make([]string, 0, len(datasets))
	for ds := range datasets {
		e.Datasets = append(e.Datasets, ds)
	}
	slices.Sort(e.Datasets)
	return e
}

// resolveSchema picks the most specific claim when every other claim is
// one of its ancestors. Otherwise it keeps the first claim by (first seq,
// name) and reports the claims that are not its ancestors as a
// SchemaConflict.
func resolveSchema(catalog *schema.Catalog, id string, sorted []ir.Statement) (string, *ir.Conflict) {
	firstSeq := make(map[string]int64)
	for _, st := range sorted {
		if seq, ok := firstSeq[st.Schema]; !ok || st.Seq < seq {
			firstSeq[st.Schema] = st.Seq
		}
	}
	claims := make([]string, 0, len(firstSeq))
	for s := range firstSeq {
		claims = append(claims, s)
	}
	slices.SortFunc(claims, func(a, b string) int {
		return cmp.Or(cmp.Compare(firstSeq[a], firstSeq[b]), cmp.Compare(a, b))
	})
	if len(claims) == 0 {
		return "", nil
	}
	// A claim that descends from every other claim agrees with all of them.
	for _, c := range claims {
		if !slices.ContainsFunc(claims, func(s string) bool { return !catalog.IsA(c, s) }) {
			return c, nil
		}
	}

	// The first-seen claim wins. Its own ancestors agree with it and are
	// not reported.
	current := claims[0]
	rejected := slices.DeleteFunc(slices.Clone(claims[1:]), func(s string) bool {
		return catalog.IsA(current, s)
	})
	return current, &ir.Conflict{
		Kind:     ir.SchemaConflict,
		EntityID: id,
		Kept:     current,
		Rejected: rejected,
	}
}
