package export

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// Options select the export targets. Either URI may be empty. "-" writes
// to Stdout.
type Options struct {
	EntitiesURI string
	IndexURI    string
	Stdout      io.Writer
	Timestamp   bool
	Now         func() time.Time
}

// Run drains entities into the configured targets and returns the index.
// With no entities target the stream is still drained to compute the
// index.
func Run(ctx context.Context, ds ir.Dataset, catalog *schema.Catalog, entities iter.Seq2[ir.MergedEntity, error], opts Options) (Index, error) {
	collect := NewCollector(catalog)

	if opts.EntitiesURI != "" {
		w, closeFn, err := create(opts.EntitiesURI, opts.Stdout)
		if err != nil {
			return Index{}, err
		}
		_, err = WriteEntities(ctx, w, entities, collect)
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		if err != nil {
			return Index{}, err
		}
	} else {
		if _, err := WriteEntities(ctx, io.Discard, entities, collect); err != nil {
			return Index{}, err
		}
	}

	idx := collect.Index(ds)
	if opts.Timestamp {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		idx.UpdatedAt = now()
	}
	if opts.IndexURI != "" {
		w, closeFn, err := create(opts.IndexURI, opts.Stdout)
		if err != nil {
			return Index{}, err
		}
		err = WriteIndex(w, idx)
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		if err != nil {
			return Index{}, err
		}
	}
	return idx, nil
}

func create(uri string, stdout io.Writer) (io.Writer, func() error, error) {
	if uri == "-" {
		if stdout == nil {
			stdout = os.Stdout
		}
		return stdout, func() error { return nil }, nil
	}
	path := uri
	if p, ok := strings.CutPrefix(uri, "file://"); ok {
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, errors.Wrapf(err, "create export dir for %s", uri)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create %s", uri)
	}
	return f, f.Close, nil
}
