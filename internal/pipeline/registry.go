package pipeline

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/export"
	"github.com/roach88/stitch/internal/ir"
)

// Stage handler signatures. Every handler receives the run Context; a
// source-scoped Context for extract, transform and load.
type (
	SeedFunc      func(ctx context.Context, pc *Context) iter.Seq2[config.Source, error]
	ExtractFunc   func(ctx context.Context, pc *Context) iter.Seq2[ir.Record, error]
	TransformFunc func(pc *Context, rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error]
	LoadFunc      func(ctx context.Context, pc *Context, deltas iter.Seq[ir.EntityDelta]) (int, error)
	ExportFunc    func(ctx context.Context, pc *Context) (export.Index, error)
)

// handlerSet is a named set of handlers for one stage.
type handlerSet[F any] struct {
	stage string
	mu    sync.RWMutex
	byKey map[string]F
}

func newHandlerSet[F any](stage string) *handlerSet[F] {
	return &handlerSet[F]{stage: stage, byKey: make(map[string]F)}
}

func (h *handlerSet[F]) register(name string, fn F) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byKey[name] = fn
}

func (h *handlerSet[F]) lookup(name string) (F, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.byKey[name]
	if !ok {
		var zero F
		return zero, errors.Mark(
			errors.WithHintf(errors.Newf("unknown %s handler %q", h.stage, name),
				"registered %s handlers: %v", h.stage, h.namesLocked()),
			errors.ErrConfig)
	}
	return fn, nil
}

func (h *handlerSet[F]) names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.namesLocked()
}

func (h *handlerSet[F]) namesLocked() []string {
	names := make([]string, 0, len(h.byKey))
	for n := range h.byKey {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry binds handler names used in dataset configuration to code.
type Registry struct {
	seed      *handlerSet[SeedFunc]
	extract   *handlerSet[ExtractFunc]
	transform *handlerSet[TransformFunc]
	load      *handlerSet[LoadFunc]
	export    *handlerSet[ExportFunc]
}

// NewRegistry returns a registry holding the default handlers.
func NewRegistry() *Registry {
	r := &Registry{
		seed:      newHandlerSet[SeedFunc]("seed"),
		extract:   newHandlerSet[ExtractFunc]("extract"),
		transform: newHandlerSet[TransformFunc]("transform"),
		load:      newHandlerSet[LoadFunc]("load"),
		export:    newHandlerSet[ExportFunc]("export"),
	}
	r.RegisterSeed(config.DefaultSeedHandler, GlobSeed)
	r.RegisterExtract(config.DefaultExtractHandler, ExtractSource)
	r.RegisterTransform(config.DefaultTransformHandler, MappingTransform)
	r.RegisterLoad(config.DefaultLoadHandler, StoreLoad)
	r.RegisterExport(config.DefaultExportHandler, JSONLExport)
	return r
}

func (r *Registry) RegisterSeed(name string, fn SeedFunc)           { r.seed.register(name, fn) }
func (r *Registry) RegisterExtract(name string, fn ExtractFunc)     { r.extract.register(name, fn) }
func (r *Registry) RegisterTransform(name string, fn TransformFunc) { r.transform.register(name, fn) }
func (r *Registry) RegisterLoad(name string, fn LoadFunc)           { r.load.register(name, fn) }
func (r *Registry) RegisterExport(name string, fn ExportFunc)       { r.export.register(name, fn) }

// Names lists registered handlers per stage.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"seed":      r.seed.names(),
		"extract":   r.extract.names(),
		"transform": r.transform.names(),
		"load":      r.load.names(),
		"export":    r.export.names(),
	}
}

// Handlers are the handlers bound for one dataset.
type Handlers struct {
	Seed      SeedFunc
	Extract   ExtractFunc
	Transform TransformFunc
	Load      LoadFunc
	Export    ExportFunc
}

// Bind resolves the handler names of cfg. Every unknown name is reported.
func (r *Registry) Bind(cfg *config.Config) (Handlers, error) {
	var h Handlers
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	h.Seed, err = r.seed.lookup(cfg.Seed.Handler)
	collect(err)
	h.Extract, err = r.extract.lookup(cfg.Extract.Handler)
	collect(err)
	h.Transform, err = r.transform.lookup(cfg.Transform.Handler)
	collect(err)
	h.Load, err = r.load.lookup(cfg.Load.Handler)
	collect(err)
	h.Export, err = r.export.lookup(cfg.Export.Handler)
	collect(err)

	switch len(errs) {
	case 0:
		return h, nil
	case 1:
		return Handlers{}, errs[0]
	default:
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Handlers{}, errors.Mark(errors.Newf("%s", strings.Join(msgs, "; ")), errors.ErrConfig)
	}
}
