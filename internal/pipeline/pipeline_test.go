package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/store"
	"github.com/roach88/stitch/internal/testutil"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("testdata/gdho.yml")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Export.EntitiesURI = filepath.Join(dir, "entities.ftm.json")
	cfg.Export.IndexURI = filepath.Join(dir, "index.json")
	return cfg
}

func testSettings(t *testing.T) config.Settings {
	return config.Settings{
		ArchiveDir:    filepath.Join(t.TempDir(), "archive"),
		StoreURI:      "memory://",
		LogEvery:      1,
		RetryAttempts: 1,
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := loadConfig(t)
	mem := store.NewMemory()
	core, logs := observer.New(zap.InfoLevel)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := testutil.NewStepClock(start, 2*time.Second)

	p, err := New(cfg, testSettings(t),
		WithStore(mem),
		WithLogger(zap.New(core).Sugar()),
		WithRunID("run-1"),
		WithClock(clock.Now),
	)
	require.NoError(t, err)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, start, run.Start)
	assert.Equal(t, 2*time.Second, run.Duration())
	assert.Equal(t, 1, run.Sources)
	assert.Equal(t, 4, run.Records)
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, 1, run.Dropped)
	assert.Equal(t, 3, run.Entities)
	assert.Equal(t, 10, run.Statements)
	assert.Empty(t, run.Conflicts)
	require.NotNil(t, run.Index)
	assert.Equal(t, 3, run.Index.EntityCount)
	assert.Equal(t, map[string]int{"Address": 2, "Organization": 1}, run.Index.Schemata)

	lines := readLines(t, cfg.Export.EntitiesURI)
	require.Len(t, lines, 3)
	assert.Equal(t, "gdho-42-paris", lines[0]["id"])
	assert.Equal(t, "gdho-43-lyon", lines[1]["id"])
	assert.Equal(t, "gdho-gdho-42", lines[2]["id"])
	assert.Equal(t, map[string]any{
		"addressEntity": []any{"gdho-42-paris"},
		"name":          []any{"Acme"},
		"website":       []any{"acme.org"},
	}, lines[2]["properties"])
	assert.Equal(t, map[string]any{
		"city": []any{"Paris"},
		"full": []any{"1 Main St, Paris"},
	}, lines[0]["properties"])

	index := readLines(t, cfg.Export.IndexURI)
	require.Len(t, index, 1)
	assert.Equal(t, "gdho", index[0]["name"])
	assert.Equal(t, float64(3), index[0]["entity_count"])

	dropped := logs.FilterMessage("dropping entity: required property empty").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "org", dropped[0].ContextMap()["mapping"])
	assert.Equal(t, "gdho", dropped[0].ContextMap()["dataset"])
	assert.Equal(t, 1, logs.FilterMessage("run finished").Len())

	stmts, err := mem.Get(context.Background(), "gdho-gdho-42")
	require.NoError(t, err)
	for _, st := range stmts {
		assert.True(t, strings.HasPrefix(st.Origin, "run-1/"), st.Origin)
		assert.Equal(t, "gdho", st.Dataset)
	}
}

func TestRun_IdempotentRerun(t *testing.T) {
	mem := store.NewMemory()
	first, err := New(loadConfig(t), testSettings(t), WithStore(mem), WithRunID("run-1"))
	require.NoError(t, err)
	run1, err := first.Run(context.Background())
	require.NoError(t, err)

	second, err := New(loadConfig(t), testSettings(t), WithStore(mem), WithRunID("run-2"))
	require.NoError(t, err)
	run2, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, run1.Statements)
	assert.Equal(t, 0, run2.Statements)
	assert.Equal(t, run1.Entities, run2.Entities)
	assert.Equal(t, run1.Index.EntityCount, run2.Index.EntityCount)

	stmts, err := mem.Get(context.Background(), "gdho-gdho-42")
	require.NoError(t, err)
	for _, st := range stmts {
		assert.Contains(t, st.Origin, "run-1", "first write keeps provenance")
	}
}

func TestRun_Incremental(t *testing.T) {
	mem := store.NewMemory()
	settings := testSettings(t)
	settings.Incremental = true

	p, err := New(loadConfig(t), settings, WithStore(mem))
	require.NoError(t, err)
	run1, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run1.Skipped)
	assert.Equal(t, 4, run1.Records)

	run2, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run2.Skipped)
	assert.Equal(t, 0, run2.Records)
	assert.Equal(t, 3, run2.Index.EntityCount, "export still sees earlier statements")
}

func TestRun_Limit(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Extract.Limit = 1
	p, err := New(cfg, testSettings(t), WithStore(store.NewMemory()))
	require.NoError(t, err)
	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Records)
	assert.Equal(t, 2, run.Entities)
}

func TestRecords_LimitStopsPulling(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Extract.Handler = "counting"
	cfg.Extract.Limit = 2

	pulled := 0
	reg := NewRegistry()
	reg.RegisterExtract("counting", func(ctx context.Context, pc *Context) iter.Seq2[ir.Record, error] {
		return func(yield func(ir.Record, error) bool) {
			for i := range 10 {
				pulled++
				rec := ir.RecordFromMap(map[string]any{"Id": fmt.Sprint(i), "Name": "Org"})
				if !yield(rec, nil) {
					return
				}
			}
		}
	})

	p, err := New(cfg, testSettings(t), WithRegistry(reg), WithStore(store.NewMemory()))
	require.NoError(t, err)
	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Records)
	assert.Equal(t, 2, pulled, "no record is read past the limit")
}

func TestRun_SQLiteStore(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Load.URI = "sqlite://" + filepath.Join(t.TempDir(), "gdho.db")

	p, err := New(cfg, testSettings(t))
	require.NoError(t, err)
	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, run.Statements)

	// Export alone reads the persisted statements.
	exp, err := p.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, exp.Index.EntityCount)
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown extract handler", func(c *config.Config) { c.Extract.Handler = "pandas" }, `unknown extract handler "pandas"`},
		{"unknown schema", func(c *config.Config) { c.Transform.Queries[0].Entities[0].Schema = "Spaceship" }, "E122"},
		{"no queries", func(c *config.Config) { c.Transform.Queries = nil }, "no queries"},
		{"missing catalog file", func(c *config.Config) { c.Dataset.Catalog = "missing.yaml" }, "missing.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, testSettings(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfig), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_CustomTransformEmits(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Transform.Queries = nil
	cfg.Transform.Handler = "people"

	reg := NewRegistry()
	reg.RegisterTransform("people", func(pc *Context, rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error] {
		return func(yield func(ir.EntityDelta, error) bool) {
			task := pc.Task()
			id, err := pc.IDs().Slug("org", "x")
			if err != nil {
				yield(ir.EntityDelta{}, err)
				return
			}
			name, _ := rec.Get("Name")
			for _, v := range []any{name, "Shared"} {
				b := ir.NewDeltaBuilder(id, "Organization")
				if s, ok := v.(string); ok {
					if err := b.Add("name", s); err != nil {
						yield(ir.EntityDelta{}, err)
						return
					}
				}
				if err := task.Emit(b.Seal()); err != nil {
					yield(ir.EntityDelta{}, err)
					return
				}
			}
			for d, err := range task.Deltas() {
				if !yield(d, err) {
					return
				}
			}
		}
	})

	mem := store.NewMemory()
	p, err := New(cfg, testSettings(t), WithRegistry(reg), WithStore(mem))
	require.NoError(t, err)
	run, err := p.Run(context.Background())
	require.NoError(t, err)

	// __source__ is stripped before the transform sees the record, so
	// every record maps to the same entity.
	assert.Equal(t, 4, run.Entities)
	require.Equal(t, 1, run.Index.EntityCount)
	lines := readLines(t, cfg.Export.EntitiesURI)
	assert.Equal(t, "gdho-org-x", lines[0]["id"])
	assert.Equal(t, []any{"Acme", "Shared", "Test Org", "Beta"}, lines[0]["properties"].(map[string]any)["name"])
}

func TestRegistry_BindReportsAll(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Seed.Handler = "s3"
	cfg.Load.Handler = "kafka"
	_, err := NewRegistry().Bind(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), `unknown seed handler "s3"`)
	assert.Contains(t, err.Error(), `unknown load handler "kafka"`)

	names := NewRegistry().Names()
	assert.Equal(t, []string{"mapping"}, names["transform"])
}
