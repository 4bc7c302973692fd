package harness

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/export"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/merge"
	"github.com/roach88/stitch/internal/pipeline"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/store"
)

// Handler names the harness registers for inline runs.
const (
	inlineExtract = "scenario"
	inlineExport  = "scenario"
	inlineSource  = "inline"
)

// Harness executes scenarios against a statement store.
type Harness struct {
	store store.Store
	log   *zap.SugaredLogger
}

// Option configures a Harness.
type Option func(*Harness)

// WithStore runs scenarios against s instead of a fresh memory store.
func WithStore(s store.Store) Option { return func(h *Harness) { h.store = s } }

// WithLogger sets the logger handed to every run.
func WithLogger(log *zap.SugaredLogger) Option { return func(h *Harness) { h.log = log } }

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh memory store unless WithStore is given.
// Runs execute in order, then every stored entity is merged and the
// assertions are evaluated against the merged entities. An error is
// returned only when a run cannot execute; failed assertions are
// reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{log: logging.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = store.NewMemory()
		defer h.store.Close()
	}

	result := NewResult()
	var catalog *schema.Catalog
	for i, step := range scenario.Runs {
		runID := fmt.Sprintf("%s-%d", scenario.Name, i+1)
		run, c, err := h.execute(ctx, runID, step)
		if err != nil {
			return nil, errors.Wrapf(err, "runs[%d]", i)
		}
		if catalog == nil {
			catalog = c
		}
		result.Runs = append(result.Runs, newRunStats(run))
	}

	diag := merge.NewDiagnostics()
	agg := merge.New(h.store, catalog, merge.WithDiagnostics(diag), merge.WithLogger(h.log))
	for e, err := range agg.Iterate(ctx) {
		if err != nil {
			return nil, errors.Wrap(err, "merge")
		}
		result.Entities = append(result.Entities, e)
	}
	result.Conflicts = diag.Conflicts()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step with a fixed run id.
func (h *Harness) execute(ctx context.Context, runID string, step RunStep) (*pipeline.WorkflowRun, *schema.Catalog, error) {
	cfg, err := config.Load(step.Config)
	if err != nil {
		return nil, nil, err
	}
	cfg.Export = config.ExportConfig{Handler: inlineExport}

	reg := pipeline.NewRegistry()
	reg.RegisterExport(inlineExport, func(context.Context, *pipeline.Context) (export.Index, error) {
		return export.Index{Name: cfg.Dataset.Name}, nil
	})
	if step.Records != nil {
		name := step.Source
		if name == "" {
			name = inlineSource
		}
		cfg.Seed = config.SeedConfig{Handler: config.DefaultSeedHandler}
		cfg.Extract.Handler = inlineExtract
		cfg.Extract.Sources = []config.Source{{Name: name, URI: inlineSource}}
		reg.RegisterExtract(inlineExtract, inlineRecords(step.Records))
	}

	settings := config.Settings{LogEvery: 10000, RetryAttempts: 1}
	p, err := pipeline.New(cfg, settings,
		pipeline.WithRegistry(reg),
		pipeline.WithStore(h.store),
		pipeline.WithLogger(h.log),
		pipeline.WithRunID(runID),
	)
	if err != nil {
		return nil, nil, err
	}
	run, err := p.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	return run, p.Catalog(), nil
}

// inlineRecords yields scenario records. Scalar values are formatted as
// strings the way a CSV reader would deliver them; nulls are absent.
func inlineRecords(records []map[string]any) pipeline.ExtractFunc {
	return func(ctx context.Context, pc *pipeline.Context) iter.Seq2[ir.Record, error] {
		return func(yield func(ir.Record, error) bool) {
			for _, raw := range records {
				if err := ctx.Err(); err != nil {
					yield(ir.Record{}, err)
					return
				}
				values := make(map[string]any, len(raw))
				for k, v := range raw {
					if v != nil {
						values[k] = fmt.Sprint(v)
					}
				}
				if !yield(ir.RecordFromMap(values), nil) {
					return
				}
			}
		}
	}
}
