package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store       string
	Incremental bool
	Limit       int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run every stage of a dataset",
		Long: `Extract, transform and load every source of a dataset into the
statement store, then export the merged entities and the dataset index.

Example:
  stitch run datasets/gdho.yml
  stitch run --store sqlite:///tmp/gdho.db --incremental datasets/gdho.yml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDataset(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "statement store uri (overrides load.uri)")
	cmd.Flags().BoolVar(&opts.Incremental, "incremental", false, "skip sources unchanged since the last run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "records per source (0 for all)")

	return cmd
}

// RunSummary is the result of the run and export commands.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Dataset     string         `json:"dataset"`
	Store       string         `json:"store"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Sources     int            `json:"sources"`
	Skipped     int            `json:"skipped"`
	Records     int            `json:"records"`
	Failed      int            `json:"failed"`
	Entities    int            `json:"entities"`
	Dropped     int            `json:"dropped"`
	Statements  int            `json:"statements"`
	Exported    int            `json:"exported"`
	Schemata    map[string]int `json:"schemata,omitempty"`
	Conflicts   []ir.Conflict  `json:"conflicts,omitempty"`
	EntitiesURI string         `json:"entities_uri,omitempty"`
	IndexURI    string         `json:"index_uri,omitempty"`
}

// NewRunSummary summarises run.
func NewRunSummary(run *pipeline.WorkflowRun) RunSummary {
	s := RunSummary{
		RunID:       run.RunID,
		Dataset:     run.Dataset,
		Store:       run.StoreURI,
		Start:       run.Start,
		End:         run.End,
		Sources:     run.Sources,
		Skipped:     run.Skipped,
		Records:     run.Records,
		Failed:      run.Failed,
		Entities:    run.Entities,
		Dropped:     run.Dropped,
		Statements:  run.Statements,
		Conflicts:   run.Conflicts,
		EntitiesURI: run.EntitiesURI,
		IndexURI:    run.IndexURI,
	}
	if run.Index != nil {
		s.Exported = run.Index.EntityCount
		s.Schemata = run.Index.Schemata
	}
	return s
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s of %s finished in %s\n", s.RunID, s.Dataset, s.End.Sub(s.Start).Round(time.Millisecond))
	fmt.Fprintf(&b, "  sources:    %d (%d skipped)\n", s.Sources, s.Skipped)
	fmt.Fprintf(&b, "  records:    %d (%d failed)\n", s.Records, s.Failed)
	fmt.Fprintf(&b, "  entities:   %d (%d dropped)\n", s.Entities, s.Dropped)
	fmt.Fprintf(&b, "  statements: %d new\n", s.Statements)
	fmt.Fprintf(&b, "  exported:   %d entities, %d conflicts", s.Exported, len(s.Conflicts))
	if s.EntitiesURI != "" {
		fmt.Fprintf(&b, "\n  output:     %s", s.EntitiesURI)
	}
	if s.IndexURI != "" {
		fmt.Fprintf(&b, "\n  index:      %s", s.IndexURI)
	}
	return b.String()
}

func runDataset(opts *RunOptions, path string, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd, path, opts.overrides())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, sess.log)
	defer cancel()

	run, err := sess.pipeline.Run(ctx)
	if err != nil {
		return sess.out.Fail(ExitFailure, "run failed", err)
	}
	return sess.out.Success(NewRunSummary(run))
}

// overrides layers the run flags over any overrides already set.
func (o *RunOptions) overrides() *Overrides {
	base := o.RootOptions.Overrides
	ov := &Overrides{}
	if base != nil {
		*ov = *base
	}
	settings, cfg := ov.Settings, ov.Config
	ov.Settings = func(s *config.Settings) {
		if settings != nil {
			settings(s)
		}
		if o.Incremental {
			s.Incremental = true
		}
	}
	ov.Config = func(c *config.Config) {
		if cfg != nil {
			cfg(c)
		}
		if o.Store != "" {
			c.Load.URI = o.Store
		}
		if o.Limit > 0 {
			c.Extract.Limit = o.Limit
		}
	}
	return ov
}
