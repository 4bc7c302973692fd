package export

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

var gdho = ir.Dataset{Name: "gdho", Title: "Global Database of Humanitarian Organisations"}

func fixtures() []ir.MergedEntity {
	return []ir.MergedEntity{
		{
			ID:     "gdho-42",
			Schema: "Organization",
			Properties: map[string][]string{
				"website": {"acme.org"},
				"name":    {"Acme", "ACME"},
				"country": {"fr"},
			},
			Datasets: []string{"gdho"},
		},
		{
			ID:     "gdho-p-1",
			Schema: "Person",
			Properties: map[string][]string{
				"name":        {"Jos\u00e9"},
				"nationality": {"es"},
				"birthDate":   {"1970-01-01"},
			},
			Datasets: []string{"a", "gdho"},
			Conflicts: []ir.Conflict{{
				Kind:     ir.PropertyConflict,
				EntityID: "gdho-p-1",
				Property: "birthDate",
				Kept:     "1970-01-01",
				Rejected: []string{"1971-01-01"},
			}},
		},
	}
}

func seq(entities []ir.MergedEntity) iter.Seq2[ir.MergedEntity, error] {
	return func(yield func(ir.MergedEntity, error) bool) {
		for _, e := range entities {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteEntities_Golden(t *testing.T) {
	var buf bytes.Buffer
	collect := NewCollector(nil)
	n, err := WriteEntities(context.Background(), &buf, seq(fixtures()), collect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	golden(t).Assert(t, "entities", buf.Bytes())

	var idx bytes.Buffer
	require.NoError(t, WriteIndex(&idx, collect.Index(gdho)))
	golden(t).Assert(t, "index", idx.Bytes())
	assert.Equal(t, []string{"Organization", "Person"}, collect.Schemata())
}

func TestWriteEntities_ByteStable(t *testing.T) {
	var first bytes.Buffer
	_, err := WriteEntities(context.Background(), &first, seq(fixtures()), nil)
	require.NoError(t, err)
	for range 10 {
		var again bytes.Buffer
		_, err := WriteEntities(context.Background(), &again, seq(fixtures()), nil)
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
	}
}

func TestWriteEntities_StopsOnError(t *testing.T) {
	boom := errors.New("scan failed")
	entities := func(yield func(ir.MergedEntity, error) bool) {
		if !yield(fixtures()[0], nil) {
			return
		}
		yield(ir.MergedEntity{}, boom)
	}
	var buf bytes.Buffer
	n, err := WriteEntities(context.Background(), &buf, entities, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestIndex_Timestamp(t *testing.T) {
	idx := Index{Name: "x", UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, idx))
	assert.Equal(t,
		`{"countries":{},"entity_count":0,"name":"x","schemata":{},"updated_at":"2024-05-01T12:00:00Z"}`+"\n",
		buf.String())
}

func TestRun_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		EntitiesURI: filepath.Join(dir, "out", "entities.ftm.json"),
		IndexURI:    "file://" + filepath.Join(dir, "out", "index.json"),
	}
	idx, err := Run(context.Background(), gdho, nil, seq(fixtures()), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.EntityCount)
	assert.Equal(t, map[string]int{"Organization": 1, "Person": 1}, idx.Schemata)

	entities, err := os.ReadFile(opts.EntitiesURI)
	require.NoError(t, err)
	want, err := os.ReadFile("testdata/golden/entities.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(entities))

	index, err := os.ReadFile(filepath.Join(dir, "out", "index.json"))
	require.NoError(t, err)
	want, err = os.ReadFile("testdata/golden/index.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(index))
}

func TestRun_IndexOnlyToStdout(t *testing.T) {
	var out bytes.Buffer
	now := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	idx, err := Run(context.Background(), ir.Dataset{Name: "gdho"}, nil, seq(fixtures()), Options{
		IndexURI:  "-",
		Stdout:    &out,
		Timestamp: true,
		Now:       now,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.EntityCount)
	assert.Contains(t, out.String(), `"updated_at":"2024-01-02T03:04:05Z"`)
}
