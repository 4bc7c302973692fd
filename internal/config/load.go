package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/errors"
)

//go:embed schema.cue
var cueSchema []byte

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Config file not found
	ErrCodeFormat      = "E003" // Unsupported file extension
	ErrCodeDecode      = "E004" // YAML decode failed
	ErrCodeBuildFailed = "E005" // CUE build or validation failed
	ErrCodeDataset     = "E006" // Dataset section invalid
)

// LoadError is a configuration file error with an optional CUE position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap marks every load error as a configuration error.
func (e *LoadError) Unwrap() error { return errors.ErrConfig }

// Load reads a dataset configuration, choosing the format by extension:
// .cue for CUE, .yml/.yaml/.json for YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config: %v", err)}
	}
	return Parse(data, path)
}

// Parse decodes data as the format implied by filename.
func Parse(data []byte, filename string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		return ParseCUE(data, filename)
	case ".yml", ".yaml", ".json":
		return ParseYAML(data, filename)
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported config format: %s", filename)}
	}
}

// ParseYAML decodes a YAML (or JSON) configuration.
func ParseYAML(data []byte, filename string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("%s: empty config", filename)}
		}
		return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("%s: %v", filename, err)}
	}
	return finish(&cfg, filename)
}

// ParseCUE evaluates a CUE configuration against the #Config definition
// and decodes the concrete result.
func ParseCUE(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(cueSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	// JSON keeps CUE field order, which the YAML decoder preserves for
	// entity and property mappings.
	js, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return ParseYAML(js, filename)
}

func finish(cfg *Config, filename string) (*Config, error) {
	if strings.TrimSpace(cfg.Dataset.Name) == "" {
		return nil, &LoadError{Code: ErrCodeDataset, Message: "dataset.name is required"}
	}
	if cfg.Base == "" && filename != "" {
		if abs, err := filepath.Abs(filepath.Dir(filename)); err == nil {
			cfg.Base = abs
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}
	}

	first := errs[0]
	loadErr := &LoadError{Code: ErrCodeBuildFailed, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		loadErr.Pos = positions[0]
	}
	return loadErr
}
