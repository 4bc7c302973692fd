// Package logging builds the zap loggers used by the pipeline and CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/stitch/internal/errors"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configure a logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // console or json
	Output io.Writer // defaults to stderr
}

// New returns a sugared logger. JSON output uses the production encoder
// for machine consumption, console output the development encoder.
func New(opts Options) (*zap.SugaredLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, errors.Mark(errors.Newf("unknown log format %q", opts.Format), errors.ErrConfig)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return zap.New(core).Sugar(), nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, errors.Mark(errors.Wrapf(err, "log level %q", s), errors.ErrConfig)
	}
	return level, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Progress logs a line every N processed items of one stage.
type Progress struct {
	log   *zap.SugaredLogger
	stage string
	every int
	n     int
}

// NewProgress returns a counter for stage. every <= 0 disables logging.
func NewProgress(log *zap.SugaredLogger, stage string, every int, keysAndValues ...any) *Progress {
	return &Progress{log: log.With(keysAndValues...), stage: stage, every: every}
}

// Tick counts one item.
func (p *Progress) Tick() {
	p.n++
	if p.every > 0 && p.n%p.every == 0 {
		p.log.Infow("processing", "stage", p.stage, "items", p.n)
	}
}

// Count returns the items counted so far.
func (p *Progress) Count() int { return p.n }

// Done logs the total.
func (p *Progress) Done() {
	p.log.Infow("stage complete", "stage", p.stage, "items", p.n)
}
