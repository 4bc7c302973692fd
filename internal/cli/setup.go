package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/pipeline"
)

// session is everything a dataset command needs: the output formatter,
// the settings, a logger writing to stderr and the bound pipeline.
type session struct {
	out      *OutputFormatter
	settings config.Settings
	log      *zap.SugaredLogger
	pipeline *pipeline.Pipeline
}

// Overrides lets tests and embedding programs adjust a session before
// the pipeline is bound.
type Overrides struct {
	Settings func(*config.Settings)
	Config   func(*config.Config)
	Pipeline []pipeline.Option
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadSettings reads the settings and builds the logger. --verbose forces
// debug logging.
func loadSettings(opts *RootOptions, cmd *cobra.Command, ov *Overrides) (config.Settings, *zap.SugaredLogger, error) {
	settings, err := config.LoadSettings(opts.EnvFiles...)
	if err != nil {
		return config.Settings{}, nil, err
	}
	if ov != nil && ov.Settings != nil {
		ov.Settings(&settings)
	}
	level := settings.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{
		Level:  level,
		Format: settings.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return config.Settings{}, nil, err
	}
	return settings, log, nil
}

// openSession loads settings and the dataset config at path, applies ov
// and binds the pipeline. Failures are reported through the formatter.
func openSession(opts *RootOptions, cmd *cobra.Command, path string, ov *Overrides) (*session, error) {
	out := newFormatter(opts, cmd)

	settings, log, err := loadSettings(opts, cmd, ov)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to load settings", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to load config", err)
	}
	if ov != nil && ov.Config != nil {
		ov.Config(cfg)
	}
	out.VerboseLog("Loaded dataset %s from %s", cfg.Dataset.Name, path)

	popts := []pipeline.Option{pipeline.WithLogger(log), pipeline.WithStdout(cmd.OutOrStdout())}
	if ov != nil {
		popts = append(popts, ov.Pipeline...)
	}
	p, err := pipeline.New(cfg, settings, popts...)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "invalid dataset config", err)
	}
	return &session{out: out, settings: settings, log: log, pipeline: p}, nil
}

// signalContext returns the command context cancelled on SIGINT and
// SIGTERM.
func signalContext(cmd *cobra.Command, log *zap.SugaredLogger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Infow("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
