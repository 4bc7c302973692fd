package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// StreamOptions holds flags for the extract and transform commands.
type StreamOptions struct {
	*RootOptions
	Output string
	Limit  int
}

// StreamSummary is the result of the extract and transform commands.
type StreamSummary struct {
	Dataset  string `json:"dataset"`
	Sources  int    `json:"sources"`
	Records  int    `json:"records"`
	Failed   int    `json:"failed,omitempty"`
	Entities int    `json:"entities,omitempty"`
	Dropped  int    `json:"dropped,omitempty"`
	Output   string `json:"output"`
}

func (s StreamSummary) String() string {
	if s.Entities > 0 || s.Dropped > 0 || s.Failed > 0 {
		return fmt.Sprintf("%s: %d records from %d sources, %d entities (%d dropped, %d records failed) -> %s",
			s.Dataset, s.Records, s.Sources, s.Entities, s.Dropped, s.Failed, s.Output)
	}
	return fmt.Sprintf("%s: %d records from %d sources -> %s", s.Dataset, s.Records, s.Sources, s.Output)
}

func addStreamFlags(cmd *cobra.Command, opts *StreamOptions) {
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "records per source (0 for all)")
}

func (o *StreamOptions) overrides() *Overrides {
	ov := &Overrides{}
	if o.RootOptions.Overrides != nil {
		*ov = *o.RootOptions.Overrides
	}
	cfg := ov.Config
	ov.Config = func(c *config.Config) {
		if cfg != nil {
			cfg(c)
		}
		if o.Limit > 0 {
			c.Extract.Limit = o.Limit
		}
	}
	return ov
}

// openOutput opens the stream destination. The summary goes to stderr
// when the stream uses stdout.
func (o *StreamOptions) openOutput(cmd *cobra.Command, out *OutputFormatter) (io.Writer, func() error, error) {
	if o.Output == "" || o.Output == "-" {
		out.Writer = cmd.ErrOrStderr()
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(o.Output)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create %s", o.Output)
	}
	return f, f.Close, nil
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <config>",
		Short: "Print the records of every source as JSON lines",
		Long: `Seed and extract the sources of a dataset and write each record as
one JSON object per line, tagged with its source name. Nothing is stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, args[0], cmd)
		},
	}
	addStreamFlags(cmd, opts)
	return cmd
}

func runExtract(opts *StreamOptions, path string, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd, path, opts.overrides())
	if err != nil {
		return err
	}
	w, closeOut, err := opts.openOutput(cmd, sess.out)
	if err != nil {
		return sess.out.Fail(ExitCommandError, "failed to open output", err)
	}

	ctx, cancel := signalContext(cmd, sess.log)
	defer cancel()

	p := sess.pipeline
	summary := StreamSummary{Dataset: p.Config().Dataset.Name, Output: opts.Output}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	err = func() error {
		for sc, err := range p.Sources(ctx, p.Context("")) {
			if err != nil {
				return err
			}
			summary.Sources++
			records, extractErr := p.Records(ctx, sc)
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return errors.Wrap(err, "write record")
				}
				summary.Records++
			}
			if err := extractErr(); err != nil {
				return err
			}
		}
		return ctx.Err()
	}()
	if closeErr := closeOut(); err == nil {
		err = closeErr
	}
	if err != nil {
		return sess.out.Fail(ExitFailure, "extract failed", err)
	}
	return sess.out.Success(summary)
}

// writeDelta writes one delta as a canonical JSON line.
func writeDelta(w io.Writer, d ir.EntityDelta) error {
	line, err := ir.MarshalCanonical(d.CanonicalMap())
	if err != nil {
		return errors.Wrapf(err, "encode %s", d.ID())
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "write delta")
	}
	return nil
}
