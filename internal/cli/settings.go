package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/config"
)

// SettingsView lists the effective runtime settings in display order.
type SettingsView struct {
	Keys   []string       `json:"-"`
	Values map[string]any `json:"settings"`
}

func (v SettingsView) String() string {
	var b strings.Builder
	for i, k := range v.Keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s_%s=%v", config.EnvPrefix, strings.ToUpper(k), v.Values[k])
	}
	return b.String()
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective runtime settings",
		Long: `Print the runtime settings after applying defaults, .env files and
STITCH_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			settings, _, err := loadSettings(rootOpts, cmd, rootOpts.Overrides)
			if err != nil {
				return out.Fail(ExitCommandError, "failed to load settings", err)
			}
			return out.Success(NewSettingsView(settings))
		},
	}
	return cmd
}

// NewSettingsView returns s keyed by setting name.
func NewSettingsView(s config.Settings) SettingsView {
	values := map[string]any{
		"debug":           s.Debug,
		"data_root":       s.DataRoot,
		"archive_dir":     s.ArchiveDir,
		"store_uri":       s.StoreURI,
		"incremental":     s.Incremental,
		"log_level":       s.LogLevel,
		"log_format":      s.LogFormat,
		"log_every":       s.LogEvery,
		"retry_attempts":  s.RetryAttempts,
		"retry_backoff":   s.RetryBackoff.String(),
		"retry_max_delay": s.RetryMaxDelay.String(),
		"seeder":          s.Seeder,
		"extractor":       s.Extractor,
		"transformer":     s.Transformer,
		"loader":          s.Loader,
		"exporter":        s.Exporter,
	}
	return SettingsView{Keys: config.Keys(), Values: values}
}
