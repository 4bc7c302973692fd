package pipeline

import (
	"context"
	"iter"
	"path/filepath"
	"slices"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/export"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/mapper"
	"github.com/roach88/stitch/internal/merge"
)

// loadBatch is how many statements StoreLoad buffers per Put.
const loadBatch = 1000

// GlobSeed expands seed.glob patterns below seed.uri (or the config
// directory) into sources, sorted by path.
func GlobSeed(ctx context.Context, pc *Context) iter.Seq2[config.Source, error] {
	return func(yield func(config.Source, error) bool) {
		cfg := pc.Config()
		if len(cfg.Seed.Glob) == 0 {
			return
		}
		base := cfg.Seed.URI
		if base == "" {
			base = cfg.Base
		}
		if config.IsRemote(base) {
			yield(config.Source{}, errors.Mark(errors.Newf("seed: glob over remote uri %q is not supported", base), errors.ErrConfig))
			return
		}

		var paths []string
		for _, pattern := range cfg.Seed.Glob {
			matches, err := filepath.Glob(filepath.Join(base, pattern))
			if err != nil {
				yield(config.Source{}, errors.Mark(errors.Wrapf(err, "seed: pattern %q", pattern), errors.ErrConfig))
				return
			}
			paths = append(paths, matches...)
		}
		slices.Sort(paths)
		for _, p := range slices.Compact(paths) {
			if err := ctx.Err(); err != nil {
				yield(config.Source{}, err)
				return
			}
			if !yield(cfg.NormalizeSource(config.Source{URI: p}), nil) {
				return
			}
		}
	}
}

// ExtractSource reads the current source by its format.
func ExtractSource(ctx context.Context, pc *Context) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		src, _ := pc.Source()
		rc, err := pc.Open(ctx)
		if err != nil {
			yield(ir.Record{}, err)
			return
		}
		defer rc.Close()
		for rec, err := range ReadRecords(rc, src) {
			if err != nil {
				yield(ir.Record{}, errors.Wrapf(err, "extract %s", src.Name))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// MappingTransform applies the compiled query plan.
func MappingTransform(pc *Context, rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error] {
	if pc.Plan() == nil {
		return func(yield func(ir.EntityDelta, error) bool) {
			yield(ir.EntityDelta{}, errors.Mark(errors.New("mapping transform: no queries configured"), errors.ErrConfig))
		}
	}
	return mapper.New(pc.Plan()).Transform(pc, rec, ix)
}

// StoreLoad encodes deltas into statements and writes them to the run's
// store in batches. It returns the number of new statements.
func StoreLoad(ctx context.Context, pc *Context, deltas iter.Seq[ir.EntityDelta]) (int, error) {
	st := pc.Store()
	if st == nil {
		return 0, errors.New("load: no store bound to context")
	}
	src, _ := pc.Source()
	enc := pc.Encoder()

	inserted := 0
	buf := make([]ir.Statement, 0, loadBatch)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := st.Put(ctx, buf)
		inserted += n
		buf = buf[:0]
		return err
	}
	for d := range deltas {
		buf = append(buf, enc.Encode(d, src.Name)...)
		if len(buf) >= loadBatch {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, ctx.Err()
}

// JSONLExport merges every entity in the store and writes the configured
// entities and index files.
func JSONLExport(ctx context.Context, pc *Context) (export.Index, error) {
	st := pc.Store()
	if st == nil {
		return export.Index{}, errors.New("export: no store bound to context")
	}
	agg := merge.New(st, pc.Catalog(),
		merge.WithDiagnostics(pc.Diagnostics()),
		merge.WithLogger(pc.Logger()),
	)
	cfg := pc.Config()
	return export.Run(ctx, cfg.Dataset, pc.Catalog(), agg.Iterate(ctx), export.Options{
		EntitiesURI: cfg.Export.EntitiesURI,
		IndexURI:    cfg.Export.IndexURI,
		Stdout:      pc.Stdout(),
	})
}
