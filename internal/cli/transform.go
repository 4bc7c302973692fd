package cli

import (
	"github.com/spf13/cobra"
)

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transform <config>",
		Short: "Print the entity deltas of every record as JSON lines",
		Long: `Extract the sources of a dataset and apply its transform, writing each
entity delta as one canonical JSON object per line. Nothing is stored.

Dropped entities and skipped records are logged to stderr.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(opts, args[0], cmd)
		},
	}
	addStreamFlags(cmd, opts)
	return cmd
}

func runTransform(opts *StreamOptions, path string, cmd *cobra.Command) error {
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

	err = func() error {
		for sc, err := range p.Sources(ctx, p.Context("")) {
			if err != nil {
				return err
			}
			summary.Sources++
			records, extractErr := p.Records(ctx, sc)
			for _, batch := range p.Transform(ctx, sc, records) {
				summary.Records++
				summary.Dropped += batch.Dropped
				if batch.Err != nil {
					summary.Failed++
				}
				for _, d := range batch.Deltas {
					if err := writeDelta(w, d); err != nil {
						return err
					}
					summary.Entities++
				}
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
		return sess.out.Fail(ExitFailure, "transform failed", err)
	}
	return sess.out.Success(summary)
}
