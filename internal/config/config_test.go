package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/errors"
)

func assertGDHO(t *testing.T, cfg *Config) {
	t.Helper()

	base, err := filepath.Abs("testdata")
	require.NoError(t, err)

	assert.Equal(t, "gdho", cfg.Dataset.Name)
	assert.Equal(t, "gdho", cfg.Dataset.IDPrefix())
	assert.Equal(t, base, cfg.Base)

	require.Len(t, cfg.Extract.Sources, 2)
	local := cfg.Extract.Sources[0]
	assert.Equal(t, filepath.Join(base, "gdho.csv"), local.URI)
	assert.Equal(t, FormatCSV, local.Format)
	assert.NotEmpty(t, local.Name)
	remote := cfg.Extract.Sources[1]
	assert.Equal(t, "extra", remote.Name)
	assert.Equal(t, "https://example.org/extra.jsonl", remote.URI)
	assert.Equal(t, FormatJSONL, remote.Format)

	require.Len(t, cfg.Transform.Queries, 1)
	q := cfg.Transform.Queries[0]
	assert.Equal(t, Filters{"status": {"active"}}, q.Filters)
	assert.Equal(t, Filters{"kind": {"test", "demo"}}, q.FiltersNot)
	assert.Equal(t, []string{"org", "address"}, q.Entities.Names())

	org, ok := q.Entities.Get("org")
	require.True(t, ok)
	assert.Equal(t, "Organization", org.Schema)
	assert.Equal(t, "gdho", org.KeyLiteral)
	assert.Equal(t, StringList{"Id"}, org.Keys)
	require.Len(t, org.Properties, 3)
	assert.Equal(t, "website", org.Properties[0].Name)
	assert.Equal(t, "name", org.Properties[1].Name)
	assert.True(t, org.Properties[1].Required)
	require.NotNil(t, org.Properties[2].Literal)
	assert.Equal(t, "", *org.Properties[2].Literal)
	assert.Equal(t, []string{"literal"}, org.Properties[2].Modes())

	addr, _ := q.Entities.Get("address")
	assert.Equal(t, ", ", addr.Properties[0].JoinWith())
	assert.Equal(t, StringList{"Street", "City"}, addr.Properties[0].Columns)

	assert.Equal(t, "sqlite:///tmp/gdho.db", cfg.Load.URI)
	assert.Equal(t, filepath.Join(base, "out/entities.ftm.json"), cfg.Export.EntitiesURI)
	assert.Equal(t, DefaultTransformHandler, cfg.Transform.Handler)
	assert.Equal(t, DefaultLoadHandler, cfg.Load.Handler)
	assert.True(t, cfg.Extract.ShouldFetch())
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load("testdata/gdho.yml")
	require.NoError(t, err)
	assertGDHO(t, cfg)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load("testdata/gdho.cue")
	require.NoError(t, err)
	assertGDHO(t, cfg)
}

func TestParseCUE_RejectsUnknownField(t *testing.T) {
	_, err := ParseCUE([]byte(`
dataset: name: "x"
transform: queries: [{entities: org: {schema: "Thing", colour: "red"}}]
`), "bad.cue")
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeBuildFailed, loadErr.Code)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestParseYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{"empty", "", ErrCodeDecode},
		{"no dataset name", "dataset: {title: x}", ErrCodeDataset},
		{"unknown top level", "dataset: {name: x}\nlaod: {uri: x}", ErrCodeDecode},
		{"entities not a map", "dataset: {name: x}\ntransform: {queries: [{entities: [a]}]}", ErrCodeDecode},
		{"nested filter", "dataset: {name: x}\ntransform: {queries: [{filters: {a: {b: c}}}]}", ErrCodeDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc), "x.yml")
			require.Error(t, err)
			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, tt.code, loadErr.Code)
			assert.True(t, errors.Is(err, errors.ErrConfig))
		})
	}
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse([]byte("x"), "config.toml")
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeFormat, loadErr.Code)
}

func TestFilters_ScalarNumbers(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
dataset: {name: x}
transform:
  queries:
    - filters: {year: 2024, open: true}
      entities: {}
`), "")
	require.NoError(t, err)
	f := cfg.Transform.Queries[0].Filters
	assert.True(t, f.Accepts("year", "2024"))
	assert.True(t, f.Accepts("open", "true"))
	assert.False(t, f.Accepts("year", "2023"))
	assert.Equal(t, []string{"open", "year"}, f.Fields())
}

func TestPropertyMapping_Modes(t *testing.T) {
	lit := "x"
	assert.Empty(t, PropertyMapping{}.Modes())
	assert.Equal(t, []string{"column", "literal"}, PropertyMapping{Column: "A", Literal: &lit}.Modes())
	assert.Equal(t, DefaultJoin, PropertyMapping{}.JoinWith())
}

func TestGuessFormat(t *testing.T) {
	assert.Equal(t, FormatJSONL, GuessFormat("https://x.org/a.ndjson?x=1"))
	assert.Equal(t, FormatJSON, GuessFormat("/data/A.JSON"))
	assert.Equal(t, FormatCSV, GuessFormat("/data/a.tsv"))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.org/a.csv"))
	assert.True(t, IsRemote("s3::https://s3.amazonaws.com/bucket/a.csv"))
	assert.False(t, IsRemote("file:///tmp/a.csv"))
	assert.False(t, IsRemote("data/a.csv"))
	assert.False(t, IsRemote(`C:\data\a.csv`))
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "memory://", s.StoreURI)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 5, s.RetryAttempts)
	assert.Equal(t, 100*time.Millisecond, s.RetryBackoff)
	assert.Equal(t, filepath.Join(s.DataRoot, "archive"), s.ArchiveDir)
	assert.Equal(t, DefaultTransformHandler, s.Transformer)
}

func TestLoadSettings_EnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("STITCH_STORE_URI=sqlite:///from-dotenv.db\nSTITCH_RETRY_BACKOFF=250ms\n"), 0o644))

	// godotenv.Load sets process variables; drop the one this test introduces.
	t.Cleanup(func() { os.Unsetenv("STITCH_RETRY_BACKOFF") })

	t.Setenv("STITCH_STORE_URI", "redis://localhost:6379/0")
	t.Setenv("STITCH_DEBUG", "true")
	t.Setenv("STITCH_INCREMENTAL", "1")

	s, err := LoadSettings(envFile)
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", s.StoreURI, "environment wins over .env")
	assert.Equal(t, 250*time.Millisecond, s.RetryBackoff)
	assert.True(t, s.Debug)
	assert.True(t, s.Incremental)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestConfig_UseHandlerDefaults(t *testing.T) {
	cfg, err := ParseYAML([]byte("dataset: {name: test}\nextract: {handler: custom}\n"), "")
	require.NoError(t, err)

	cfg.UseHandlerDefaults(Settings{Seeder: "nothing", Extractor: "pandas", Loader: ""})
	assert.Equal(t, "nothing", cfg.Seed.Handler)
	assert.Equal(t, "custom", cfg.Extract.Handler, "explicit names are kept")
	assert.Equal(t, DefaultLoadHandler, cfg.Load.Handler)
}
