package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/compiler"
	"github.com/roach88/stitch/internal/config"
)

// DatasetInfo describes a validated dataset configuration.
type DatasetInfo struct {
	Name     string       `json:"name"`
	Prefix   string       `json:"prefix"`
	Title    string       `json:"title,omitempty"`
	Catalog  string       `json:"catalog"`
	Store    string       `json:"store"`
	Sources  []SourceInfo `json:"sources"`
	Handlers HandlerInfo  `json:"handlers"`
	Queries  []QueryInfo  `json:"queries,omitempty"`
}

// SourceInfo is one static source.
type SourceInfo struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	Format string `json:"format"`
}

// HandlerInfo names the bound handler of every stage.
type HandlerInfo struct {
	Seed      string `json:"seed"`
	Extract   string `json:"extract"`
	Transform string `json:"transform"`
	Load      string `json:"load"`
	Export    string `json:"export"`
}

// QueryInfo lists the mappings of one compiled query in plan order.
type QueryInfo struct {
	Index    int           `json:"index"`
	Mappings []MappingInfo `json:"mappings"`
}

// MappingInfo summarises one compiled entity mapping.
type MappingInfo struct {
	Name       string   `json:"name"`
	Schema     string   `json:"schema"`
	Properties []string `json:"properties"`
}

func (d DatasetInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s (prefix %s)", d.Name, d.Prefix)
	if d.Title != "" {
		fmt.Fprintf(&b, ": %s", d.Title)
	}
	fmt.Fprintf(&b, "\n  catalog:  %s\n  store:    %s\n", d.Catalog, d.Store)
	fmt.Fprintf(&b, "  handlers: seed=%s extract=%s transform=%s load=%s export=%s\n",
		d.Handlers.Seed, d.Handlers.Extract, d.Handlers.Transform, d.Handlers.Load, d.Handlers.Export)
	fmt.Fprintf(&b, "  sources:  %d", len(d.Sources))
	for _, src := range d.Sources {
		fmt.Fprintf(&b, "\n    %s [%s] %s", src.Name, src.Format, src.URI)
	}
	for _, q := range d.Queries {
		fmt.Fprintf(&b, "\n  query %d:", q.Index)
		for _, m := range q.Mappings {
			fmt.Fprintf(&b, "\n    %s: %s (%s)", m.Name, m.Schema, strings.Join(m.Properties, ", "))
		}
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <config>",
		Short: "Validate a dataset config and describe it",
		Long: `Load a dataset configuration, resolve its schema catalog, compile its
queries and bind its handlers, then print the dataset, its sources and
the compiled mappings. Exits with code 2 on any configuration error.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	sess, err := openSession(opts, cmd, path, opts.Overrides)
	if err != nil {
		return err
	}
	return sess.out.Success(describe(sess))
}

func describe(sess *session) DatasetInfo {
	p := sess.pipeline
	cfg := p.Config()
	info := DatasetInfo{
		Name:    cfg.Dataset.Name,
		Prefix:  cfg.Dataset.IDPrefix(),
		Title:   cfg.Dataset.Title,
		Catalog: catalogName(cfg),
		Store:   p.StoreURI(),
		Sources: []SourceInfo{},
		Handlers: HandlerInfo{
			Seed:      cfg.Seed.Handler,
			Extract:   cfg.Extract.Handler,
			Transform: cfg.Transform.Handler,
			Load:      cfg.Load.Handler,
			Export:    cfg.Export.Handler,
		},
	}
	for _, src := range cfg.Extract.Sources {
		info.Sources = append(info.Sources, SourceInfo{Name: src.Name, URI: src.URI, Format: src.Format})
	}
	if plan := p.Plan(); plan != nil {
		info.Queries = describePlan(plan)
	}
	return info
}

func describePlan(plan *compiler.Plan) []QueryInfo {
	queries := make([]QueryInfo, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		qi := QueryInfo{Index: q.Index}
		for _, m := range q.Mappings {
			mi := MappingInfo{Name: m.Name, Schema: m.Schema, Properties: make([]string, 0, len(m.Properties))}
			for _, pp := range m.Properties {
				mi.Properties = append(mi.Properties, pp.Name)
			}
			qi.Mappings = append(qi.Mappings, mi)
		}
		queries = append(queries, qi)
	}
	return queries
}

func catalogName(cfg *config.Config) string {
	if cfg.Dataset.Catalog == "" {
		return "default"
	}
	return cfg.Dataset.Catalog
}
