// Package pipeline runs a dataset configuration end to end.
//
// A run seeds and lists sources, then for each source extracts records,
// maps them to entity deltas, and loads the deltas as statements into the
// fragment store. Finally the export stage merges every entity in the
// store and writes the entities and index files.
//
// Every stage calls a handler bound by name from a Registry. All
// configuration errors (unknown handlers, invalid schema catalog, mapping
// compile errors) are reported by New, before any record is read.
// Per-record and per-entity failures are logged and counted; store
// failures are retried and then end the run.
package pipeline

import (
	"context"
	"io"
	"iter"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/compiler"
	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/export"
	"github.com/roach88/stitch/internal/ids"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/mapper"
	"github.com/roach88/stitch/internal/merge"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/store"
)

// Pipeline is a bound, validated dataset configuration.
type Pipeline struct {
	cfg      *config.Config
	settings config.Settings
	catalog  *schema.Catalog
	plan     *compiler.Plan
	handlers Handlers
	registry *Registry

	log     *zap.SugaredLogger
	store   store.Store
	http    *http.Client
	now     func() time.Time
	newID   func() (string, error)
	archive *Archive
	stdout  io.Writer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRegistry binds handlers from r instead of the default registry.
func WithRegistry(r *Registry) Option { return func(p *Pipeline) { p.registry = r } }

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option { return func(p *Pipeline) { p.log = log } }

// WithStore uses s instead of opening the configured store URI. The
// pipeline does not close it.
func WithStore(s store.Store) Option { return func(p *Pipeline) { p.store = s } }

// WithCatalog overrides the catalog named by the dataset.
func WithCatalog(c *schema.Catalog) Option { return func(p *Pipeline) { p.catalog = c } }

// WithHTTPClient sets the client used for remote cache-key HEAD requests.
func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.http = c } }

// WithClock sets the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithStdout sets where "-" outputs are written, os.Stdout by default.
func WithStdout(w io.Writer) Option { return func(p *Pipeline) { p.stdout = w } }

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.newID = func() (string, error) { return id, nil } }
}

// New validates cfg: it resolves the schema catalog, compiles the mapping
// queries and binds every handler name. All errors are config errors.
func New(cfg *config.Config, settings config.Settings, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:      cfg,
		settings: settings,
		log:      logging.Nop(),
		now:      time.Now,
		newID:    newRunID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	p.log = p.log.With("dataset", cfg.Dataset.Name)

	if p.catalog == nil {
		ref := cfg.Dataset.Catalog
		if ref != "" && ref != schema.DefaultRef && !filepath.IsAbs(ref) && cfg.Base != "" {
			ref = filepath.Join(cfg.Base, ref)
		}
		c, err := schema.Resolve(ref)
		if err != nil {
			return nil, err
		}
		p.catalog = c
	}

	cfg.UseHandlerDefaults(settings)
	handlers, err := p.registry.Bind(cfg)
	if err != nil {
		return nil, err
	}
	p.handlers = handlers

	if len(cfg.Transform.Queries) > 0 {
		plan, err := compiler.Compile(cfg.Transform.Queries, p.catalog)
		if err != nil {
			return nil, err
		}
		p.plan = plan
	} else if cfg.Transform.Handler == config.DefaultTransformHandler {
		return nil, errors.Mark(
			errors.WithHint(errors.New("transform: no queries configured"),
				"add transform.queries or set transform.handler to a registered custom handler"),
			errors.ErrConfig)
	}

	p.archive = NewArchive(settings.ArchiveDir, p.log)
	return p, nil
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate run id")
	}
	return id.String(), nil
}

// Config returns the bound configuration.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Plan returns the compiled plan, nil for custom transforms without queries.
func (p *Pipeline) Plan() *compiler.Plan { return p.plan }

// Catalog returns the resolved catalog.
func (p *Pipeline) Catalog() *schema.Catalog { return p.catalog }

// StoreURI returns the store the run writes: load.uri, else settings.
func (p *Pipeline) StoreURI() string {
	if p.cfg.Load.URI != "" {
		return p.cfg.Load.URI
	}
	return p.settings.StoreURI
}

// Context returns a dataset context without a store, for stages that only
// read sources.
func (p *Pipeline) Context(runID string) *Context {
	return &Context{
		cfg:      p.cfg,
		settings: p.settings,
		catalog:  p.catalog,
		plan:     p.plan,
		runID:    runID,
		archive:  p.archive,
		diag:     merge.NewDiagnostics(),
		ids:      ids.NewGenerator(p.cfg.Dataset.IDPrefix()),
		log:      p.log,
		stdout:   p.stdout,
	}
}

// OpenStore opens the configured store behind the retry policy of the
// settings. With WithStore the given store is wrapped and Close is a no-op.
func (p *Pipeline) OpenStore(ctx context.Context) (store.Store, func() error, error) {
	policy := store.RetryPolicy{
		Attempts: p.settings.RetryAttempts,
		Backoff:  p.settings.RetryBackoff,
		MaxDelay: p.settings.RetryMaxDelay,
	}
	if p.store != nil {
		return store.NewRetrying(p.store, policy, p.log), func() error { return nil }, nil
	}
	s, err := store.Open(ctx, p.StoreURI())
	if err != nil {
		return nil, nil, err
	}
	return store.NewRetrying(s, policy, p.log), s.Close, nil
}

// Sources yields a source context for every seeded source, then every
// static source.
func (p *Pipeline) Sources(ctx context.Context, rc *Context) iter.Seq2[*Context, error] {
	return func(yield func(*Context, error) bool) {
		for src, err := range p.handlers.Seed(ctx, rc) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rc.ForSource(src), nil) {
				return
			}
		}
		for _, src := range p.cfg.Extract.Sources {
			if !yield(rc.ForSource(src), nil) {
				return
			}
		}
	}
}

// Records extracts the records of one source numbered from 1, tagged
// with the source name and cut at extract.limit. The returned function
// reports the error that ended extraction, if any.
func (p *Pipeline) Records(ctx context.Context, sc *Context) (iter.Seq2[int, ir.Record], func() error) {
	var failed error
	src, _ := sc.Source()
	limit := p.cfg.Extract.Limit
	progress := logging.NewProgress(sc.Logger(), "extract", p.settings.LogEvery)

	seq := func(yield func(int, ir.Record) bool) {
		ix := 0
		for rec, err := range p.handlers.Extract(ctx, sc) {
			if err != nil {
				failed = err
				return
			}
			ix++
			progress.Tick()
			if !yield(ix, rec.With(ir.SourceField, src.Name)) {
				return
			}
			if limit > 0 && ix >= limit {
				return
			}
		}
	}
	return seq, func() error { return failed }
}

// Transform maps the records of one source with the bound transform.
func (p *Pipeline) Transform(ctx context.Context, sc *Context, records iter.Seq2[int, ir.Record]) iter.Seq2[int, mapper.Batch] {
	transform := func(rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error] {
		return p.handlers.Transform(sc, rec, ix)
	}
	return mapper.Iterate(ctx, sc.Logger(), transform, records)
}

// WorkflowRun summarises a finished run.
type WorkflowRun struct {
	RunID       string
	Dataset     string
	StoreURI    string
	Start       time.Time
	End         time.Time
	Sources     int
	Skipped     int // sources skipped by incremental mode
	Records     int
	Failed      int // records skipped by transform
	Entities    int // deltas loaded
	Dropped     int // entities dropped by the mapper
	Statements  int // new statements written
	Conflicts   []ir.Conflict
	Index       *export.Index
	EntitiesURI string
	IndexURI    string
}

// Duration returns End - Start.
func (r *WorkflowRun) Duration() time.Duration { return r.End.Sub(r.Start) }

// Run executes every stage.
func (p *Pipeline) Run(ctx context.Context) (*WorkflowRun, error) {
	runID, err := p.newID()
	if err != nil {
		return nil, err
	}
	run := &WorkflowRun{
		RunID:       runID,
		Dataset:     p.cfg.Dataset.Name,
		StoreURI:    p.StoreURI(),
		Start:       p.now(),
		EntitiesURI: p.cfg.Export.EntitiesURI,
		IndexURI:    p.cfg.Export.IndexURI,
	}
	log := p.log.With("run", runID)
	log.Infow("run started", "store", run.StoreURI)

	st, closeStore, err := p.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	clock, err := store.ClockFor(ctx, st)
	if err != nil {
		return nil, err
	}
	rc := p.Context(runID)
	rc.log = log
	rc.store = st
	rc.encoder = store.NewEncoder(p.cfg.Dataset.Name, runID, clock)

	for sc, err := range p.Sources(ctx, rc) {
		if err != nil {
			return nil, err
		}
		run.Sources++
		skipped, err := p.loadSource(ctx, sc, run)
		if err != nil {
			return nil, err
		}
		if skipped {
			run.Skipped++
		}
	}

	idx, err := p.handlers.Export(ctx, rc)
	if err != nil {
		return nil, errors.Wrap(err, "export")
	}
	run.Index = &idx
	run.Conflicts = rc.Diagnostics().Conflicts()
	run.End = p.now()

	log.Infow("run finished",
		"sources", run.Sources,
		"records", run.Records,
		"entities", run.Entities,
		"statements", run.Statements,
		"dropped", run.Dropped,
		"conflicts", len(run.Conflicts),
		"duration", run.Duration(),
	)
	return run, nil
}

// loadSource runs extract, transform and load for one source.
func (p *Pipeline) loadSource(ctx context.Context, sc *Context, run *WorkflowRun) (bool, error) {
	src, _ := sc.Source()
	log := sc.Logger()

	tagKey := ""
	tags, hasTags := sc.Store().(store.Tags)
	if p.settings.Incremental && hasTags {
		if key := CacheKey(ctx, p.http, src); key != "" {
			tagKey = p.cfg.Dataset.Name + "/extract/" + key
			seen, err := tags.HasTag(ctx, tagKey)
			if err != nil {
				return false, err
			}
			if seen {
				log.Infow("skipping source, unchanged since last run", "uri", src.URI, "cache_key", key)
				return true, nil
			}
		}
	}

	records, extractErr := p.Records(ctx, sc)
	progress := logging.NewProgress(log, "transform", p.settings.LogEvery)
	deltas := func(yield func(ir.EntityDelta) bool) {
		for _, batch := range p.Transform(ctx, sc, records) {
			run.Records++
			if batch.Err != nil {
				run.Failed++
			}
			run.Dropped += batch.Dropped
			for _, d := range batch.Deltas {
				progress.Tick()
				run.Entities++
				if !yield(d) {
					return
				}
			}
		}
	}

	n, err := p.handlers.Load(ctx, sc, deltas)
	run.Statements += n
	if err != nil {
		return false, errors.Wrapf(err, "load %s", src.Name)
	}
	if err := extractErr(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	progress.Done()

	if tagKey != "" {
		if err := tags.PutTag(ctx, tagKey, run.RunID); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Export merges and exports the configured store without extracting.
func (p *Pipeline) Export(ctx context.Context) (*WorkflowRun, error) {
	runID, err := p.newID()
	if err != nil {
		return nil, err
	}
	run := &WorkflowRun{
		RunID:       runID,
		Dataset:     p.cfg.Dataset.Name,
		StoreURI:    p.StoreURI(),
		Start:       p.now(),
		EntitiesURI: p.cfg.Export.EntitiesURI,
		IndexURI:    p.cfg.Export.IndexURI,
	}
	st, closeStore, err := p.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	rc := p.Context(runID)
	rc.store = st
	idx, err := p.handlers.Export(ctx, rc)
	if err != nil {
		return nil, errors.Wrap(err, "export")
	}
	run.Index = &idx
	run.Conflicts = rc.Diagnostics().Conflicts()
	run.End = p.now()
	return run, nil
}
