// Package config loads dataset configuration and runtime settings.
//
// A dataset configuration describes one pipeline: the dataset, where its
// sources come from, how records map to entities and where statements and
// exports go. It is written as YAML or CUE; both decode into Config.
//
// Runtime settings (log level, store URI, retry policy, ...) come from
// STITCH_* environment variables and an optional .env file, see Settings.
package config

import (
	"cmp"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/stitch/internal/ids"
	"github.com/roach88/stitch/internal/ir"
)

// Config is one dataset pipeline configuration.
type Config struct {
	Dataset   ir.Dataset      `yaml:"dataset" json:"dataset"`
	Seed      SeedConfig      `yaml:"seed" json:"seed,omitempty"`
	Extract   ExtractConfig   `yaml:"extract" json:"extract,omitempty"`
	Transform TransformConfig `yaml:"transform" json:"transform,omitempty"`
	Load      LoadConfig      `yaml:"load" json:"load,omitempty"`
	Export    ExportConfig    `yaml:"export" json:"export,omitempty"`

	// Base is the directory relative source paths resolve against.
	Base string `yaml:"-" json:"-"`
}

// Source is a local or remote file extracted into records.
type Source struct {
	Name   string         `yaml:"name" json:"name"`
	URI    string         `yaml:"uri" json:"uri"`
	Format string         `yaml:"format" json:"format,omitempty"`
	Data   map[string]any `yaml:"data" json:"data,omitempty"`
}

// Source formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// SeedConfig produces additional sources at run time.
type SeedConfig struct {
	Handler string   `yaml:"handler" json:"handler,omitempty"`
	URI     string   `yaml:"uri" json:"uri,omitempty"`
	Glob    []string `yaml:"glob" json:"glob,omitempty"`
}

// ExtractConfig lists static sources and how to read them.
type ExtractConfig struct {
	Handler string   `yaml:"handler" json:"handler,omitempty"`
	Sources []Source `yaml:"sources" json:"sources,omitempty"`
	Fetch   *bool    `yaml:"fetch" json:"fetch,omitempty"`
	Limit   int      `yaml:"limit" json:"limit,omitempty"`
}

// ShouldFetch reports whether remote sources may be served from the
// archive cache. With fetch: false every run downloads again. Defaults to true.
func (e ExtractConfig) ShouldFetch() bool {
	return e.Fetch == nil || *e.Fetch
}

// TransformConfig holds the mapping queries or a custom handler.
type TransformConfig struct {
	Handler string            `yaml:"handler" json:"handler,omitempty"`
	Queries []QueryDefinition `yaml:"queries" json:"queries,omitempty"`
}

// LoadConfig selects the fragment store.
type LoadConfig struct {
	Handler string `yaml:"handler" json:"handler,omitempty"`
	URI     string `yaml:"uri" json:"uri,omitempty"`
}

// ExportConfig selects export destinations. Empty URIs skip that output.
type ExportConfig struct {
	Handler     string `yaml:"handler" json:"handler,omitempty"`
	EntitiesURI string `yaml:"entities_uri" json:"entities_uri,omitempty"`
	IndexURI    string `yaml:"index_uri" json:"index_uri,omitempty"`
}

// Default handler names, bound in the pipeline registry.
const (
	DefaultSeedHandler      = "glob"
	DefaultExtractHandler   = "default"
	DefaultTransformHandler = "mapping"
	DefaultLoadHandler      = "store"
	DefaultExportHandler    = "jsonl"
)

// applyDefaults fills handler names, source names and formats, and
// resolves relative paths against c.Base.
func (c *Config) applyDefaults() {
	c.Seed.Handler = cmp.Or(c.Seed.Handler, DefaultSeedHandler)
	c.Extract.Handler = cmp.Or(c.Extract.Handler, DefaultExtractHandler)
	c.Transform.Handler = cmp.Or(c.Transform.Handler, DefaultTransformHandler)
	c.Load.Handler = cmp.Or(c.Load.Handler, DefaultLoadHandler)
	c.Export.Handler = cmp.Or(c.Export.Handler, DefaultExportHandler)

	if c.Seed.URI != "" {
		c.Seed.URI = c.resolve(c.Seed.URI)
	}
	for i := range c.Extract.Sources {
		c.Extract.Sources[i] = c.normalizeSource(c.Extract.Sources[i])
	}
	if c.Export.EntitiesURI != "" {
		c.Export.EntitiesURI = c.resolve(c.Export.EntitiesURI)
	}
	if c.Export.IndexURI != "" {
		c.Export.IndexURI = c.resolve(c.Export.IndexURI)
	}
}

// NormalizeSource fills a source's name and format and resolves its URI.
// Seed handlers use it for the sources they produce.
func (c *Config) NormalizeSource(src Source) Source {
	return c.normalizeSource(src)
}

func (c *Config) normalizeSource(src Source) Source {
	src.URI = c.resolve(src.URI)
	if src.Name == "" {
		src.Name = ids.Normalize(src.URI)
	}
	if src.Format == "" {
		src.Format = GuessFormat(src.URI)
	}
	return src
}

// resolve makes local relative paths absolute against the config directory.
func (c *Config) resolve(uri string) string {
	if IsRemote(uri) || c.Base == "" || filepath.IsAbs(uri) {
		return uri
	}
	return filepath.Join(c.Base, uri)
}

// IsRemote reports whether uri carries a scheme other than file.
func IsRemote(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) < 2 {
		// Single letter schemes are Windows drive letters.
		return false
	}
	return u.Scheme != "file"
}

// GuessFormat derives a source format from a path extension, defaulting to csv.
func GuessFormat(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
