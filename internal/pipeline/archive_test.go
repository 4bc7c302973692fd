package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/logging"
)

func sourceServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestKey(t *testing.T) {
	assert.Equal(t, "example.org/data/orgs.csv", Key("https://example.org/data/orgs.csv"))
	assert.Equal(t, "tmp/orgs.csv", Key("/tmp/orgs.csv"))
}

func TestArchive_FetchCaches(t *testing.T) {
	srv, gets := sourceServer(t, "Id,Name\n1,Acme\n")
	a := NewArchive(t.TempDir(), logging.Nop())
	uri := srv.URL + "/data/orgs.csv"

	p1, err := a.Fetch(context.Background(), uri, true)
	require.NoError(t, err)
	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "Id,Name\n1,Acme\n", string(data))
	assert.Equal(t, "orgs.csv", filepath.Base(p1))
	assert.True(t, strings.HasPrefix(p1, a.Dir()))

	p2, err := a.Fetch(context.Background(), uri, true)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, int32(1), gets.Load(), "second fetch served from archive")

	_, err = a.Fetch(context.Background(), uri, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gets.Load())
}

func TestArchive_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	a := NewArchive(t.TempDir(), logging.Nop())
	_, err := a.Fetch(context.Background(), srv.URL+"/missing.csv", true)
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("x\n1\n"), 0o644))

	local := CacheKey(context.Background(), nil, config.Source{URI: path})
	require.NotEmpty(t, local)
	assert.Equal(t, local, CacheKey(context.Background(), nil, config.Source{URI: path}))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.NotEqual(t, local, CacheKey(context.Background(), nil, config.Source{URI: path}), "mtime is part of the key")

	assert.Empty(t, CacheKey(context.Background(), nil, config.Source{URI: filepath.Join(dir, "missing.csv")}))

	srv, gets := sourceServer(t, "x")
	remote := CacheKey(context.Background(), srv.Client(), config.Source{URI: srv.URL + "/a.csv"})
	assert.NotEmpty(t, remote)
	assert.Equal(t, int32(0), gets.Load(), "HEAD only")

	assert.Empty(t, CacheKey(context.Background(), nil, config.Source{URI: "s3://bucket/a.csv"}))
}

func TestGlobSeed(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.csv", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644))
	}
	cfg := &config.Config{Base: dir}
	cfg.Seed.Glob = []string{"*.csv", "a.*"}

	var got []config.Source
	for src, err := range GlobSeed(context.Background(), &Context{cfg: cfg}) {
		require.NoError(t, err)
		got = append(got, src)
	}
	require.Len(t, got, 2)
	assert.Equal(t, filepath.Join(dir, "a.csv"), got[0].URI)
	assert.Equal(t, filepath.Join(dir, "b.csv"), got[1].URI)
	assert.Equal(t, config.FormatCSV, got[0].Format)
	assert.NotEmpty(t, got[0].Name)
}
