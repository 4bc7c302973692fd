package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/config"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Store       string
	EntitiesURI string
	IndexURI    string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <config>",
		Short: "Export the merged entities of a dataset's store",
		Long: `Merge every entity in the statement store and write the entities and
index files, without extracting any source. The output depends only on
the stored statements.

Example:
  stitch export --store sqlite:///tmp/gdho.db --entities - datasets/gdho.yml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "statement store uri (overrides load.uri)")
	cmd.Flags().StringVar(&opts.EntitiesURI, "entities", "", "entities output (overrides export.entities_uri, - for stdout)")
	cmd.Flags().StringVar(&opts.IndexURI, "index", "", "index output (overrides export.index_uri)")

	return cmd
}

func (o *ExportOptions) overrides() *Overrides {
	ov := &Overrides{}
	if o.RootOptions.Overrides != nil {
		*ov = *o.RootOptions.Overrides
	}
	cfg := ov.Config
	ov.Config = func(c *config.Config) {
		if cfg != nil {
			cfg(c)
		}
		if o.Store != "" {
			c.Load.URI = o.Store
		}
		if o.EntitiesURI != "" {
			c.Export.EntitiesURI = o.EntitiesURI
		}
		if o.IndexURI != "" {
			c.Export.IndexURI = o.IndexURI
		}
	}
	return ov
}

func runExport(opts *ExportOptions, path string, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd, path, opts.overrides())
	if err != nil {
		return err
	}
	if sess.pipeline.Config().Export.EntitiesURI == "-" {
		sess.out.Writer = cmd.ErrOrStderr()
	}

	ctx, cancel := signalContext(cmd, sess.log)
	defer cancel()

	run, err := sess.pipeline.Export(ctx)
	if err != nil {
		return sess.out.Fail(ExitFailure, "export failed", err)
	}
	return sess.out.Success(NewRunSummary(run))
}
