package pipeline

import (
	"context"
	"io"
	"iter"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/compiler"
	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ids"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/merge"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/store"
)

// Context is the run-scoped state handed to every handler. A Context is
// either dataset-scoped (seed, export) or bound to one source (extract,
// transform, load). It is not shared between concurrent runs.
type Context struct {
	cfg      *config.Config
	settings config.Settings
	catalog  *schema.Catalog
	plan     *compiler.Plan
	runID    string

	store   store.Store
	encoder *store.Encoder
	archive *Archive
	diag    *merge.Diagnostics

	ids    ids.Generator
	log    *zap.SugaredLogger
	source *config.Source
	stdout io.Writer
}

// Config returns the dataset configuration.
func (c *Context) Config() *config.Config { return c.cfg }

// Settings returns the runtime settings.
func (c *Context) Settings() config.Settings { return c.settings }

// Dataset returns the dataset the run writes.
func (c *Context) Dataset() ir.Dataset { return c.cfg.Dataset }

// Catalog returns the schema catalog.
func (c *Context) Catalog() *schema.Catalog { return c.catalog }

// Plan returns the compiled mapping plan, nil without queries.
func (c *Context) Plan() *compiler.Plan { return c.plan }

// RunID returns the run identifier.
func (c *Context) RunID() string { return c.runID }

// Store returns the fragment store; nil outside a run.
func (c *Context) Store() store.Store { return c.store }

// Encoder returns the run's statement encoder.
func (c *Context) Encoder() *store.Encoder { return c.encoder }

// Diagnostics returns the merge conflict sink of the run.
func (c *Context) Diagnostics() *merge.Diagnostics { return c.diag }

// IDs returns the generator bound to the dataset prefix.
func (c *Context) IDs() ids.Generator { return c.ids }

// Logger returns the logger, carrying dataset and source fields.
func (c *Context) Logger() *zap.SugaredLogger { return c.log }

// Stdout returns the writer for "-" outputs, nil for os.Stdout.
func (c *Context) Stdout() io.Writer { return c.stdout }

// Source returns the current source. ok is false on a dataset context.
func (c *Context) Source() (config.Source, bool) {
	if c.source == nil {
		return config.Source{}, false
	}
	return *c.source, true
}

// ForSource returns a copy of c bound to src.
func (c *Context) ForSource(src config.Source) *Context {
	sc := *c
	sc.source = &src
	sc.log = c.log.With("source", src.Name)
	return &sc
}

// Open opens the current source for reading. Remote sources go through
// the archive.
func (c *Context) Open(ctx context.Context) (io.ReadCloser, error) {
	src, ok := c.Source()
	if !ok {
		return nil, errors.New("open: no source bound to context")
	}
	p := strings.TrimPrefix(src.URI, "file://")
	if config.IsRemote(src.URI) {
		if c.archive == nil {
			return nil, errors.Newf("open %s: no archive configured", src.URI)
		}
		var err error
		p, err = c.archive.Fetch(ctx, src.URI, c.cfg.Extract.ShouldFetch())
		if err != nil {
			return nil, err
		}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %s", src.Name)
	}
	return f, nil
}

// Task returns a collector for helper entities of one record.
func (c *Context) Task() *Task {
	return &Task{Context: c, byID: make(map[string]int)}
}

// Task gathers deltas a custom transform emits while handling one record.
// Deltas with the same id are merged as they arrive.
type Task struct {
	*Context
	deltas []ir.EntityDelta
	byID   map[string]int
}

// Emit adds deltas. A zero delta is ignored; one without id is an
// entity error.
func (t *Task) Emit(deltas ...ir.EntityDelta) error {
	for _, d := range deltas {
		if d.IsZero() {
			continue
		}
		if d.ID() == "" {
			return errors.Mark(errors.Newf("emitted %s entity has no id", d.Schema()), errors.ErrEntity)
		}
		if pos, ok := t.byID[d.ID()]; ok {
			merged, err := t.deltas[pos].Merge(d)
			if err != nil {
				return err
			}
			t.deltas[pos] = merged
			continue
		}
		t.byID[d.ID()] = len(t.deltas)
		t.deltas = append(t.deltas, d)
	}
	return nil
}

// Deltas yields the emitted deltas in first-emit order.
func (t *Task) Deltas() iter.Seq2[ir.EntityDelta, error] {
	return func(yield func(ir.EntityDelta, error) bool) {
		for _, d := range t.deltas {
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Len returns the number of distinct emitted entities.
func (t *Task) Len() int { return len(t.deltas) }
