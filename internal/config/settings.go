package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/roach88/stitch/internal/errors"
)

// EnvPrefix prefixes every settings environment variable.
const EnvPrefix = "STITCH"

// Settings are runtime options that apply to every dataset.
type Settings struct {
	Debug       bool   `mapstructure:"debug" json:"debug"`
	DataRoot    string `mapstructure:"data_root" json:"data_root"`
	ArchiveDir  string `mapstructure:"archive_dir" json:"archive_dir"`
	StoreURI    string `mapstructure:"store_uri" json:"store_uri"`
	Incremental bool   `mapstructure:"incremental" json:"incremental"`

	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"`
	LogEvery  int    `mapstructure:"log_every" json:"log_every"`

	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" json:"retry_max_delay"`

	Seeder      string `mapstructure:"seeder" json:"seeder"`
	Extractor   string `mapstructure:"extractor" json:"extractor"`
	Transformer string `mapstructure:"transformer" json:"transformer"`
	Loader      string `mapstructure:"loader" json:"loader"`
	Exporter    string `mapstructure:"exporter" json:"exporter"`
}

// SetDefaults configures default values for all settings.
func SetDefaults(v *viper.Viper) {
	dataRoot := "data"
	if wd, err := os.Getwd(); err == nil {
		dataRoot = filepath.Join(wd, "data")
	}

	v.SetDefault("debug", false)
	v.SetDefault("data_root", dataRoot)
	v.SetDefault("archive_dir", "")
	v.SetDefault("store_uri", "memory://")
	v.SetDefault("incremental", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_every", 10000)

	v.SetDefault("retry_attempts", 5)
	v.SetDefault("retry_backoff", 100*time.Millisecond)
	v.SetDefault("retry_max_delay", 5*time.Second)

	v.SetDefault("seeder", DefaultSeedHandler)
	v.SetDefault("extractor", DefaultExtractHandler)
	v.SetDefault("transformer", DefaultTransformHandler)
	v.SetDefault("loader", DefaultLoadHandler)
	v.SetDefault("exporter", DefaultExportHandler)
}

// NewViper returns a viper instance bound to STITCH_* environment
// variables with defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadSettings reads .env files (missing files are ignored) into the
// process environment, then decodes settings from the environment.
// Variables already set in the environment win over .env values.
func LoadSettings(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Settings{}, errors.Mark(errors.Wrapf(err, "read %s", f), errors.ErrConfig)
		}
	}
	return SettingsFrom(NewViper())
}

// SettingsFrom decodes settings from a prepared viper instance.
func SettingsFrom(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Mark(errors.Wrap(err, "decode settings"), errors.ErrConfig)
	}
	if s.ArchiveDir == "" {
		s.ArchiveDir = filepath.Join(s.DataRoot, "archive")
	}
	if s.LogEvery <= 0 {
		s.LogEvery = 10000
	}
	if s.RetryAttempts < 1 {
		s.RetryAttempts = 1
	}
	if s.Debug && s.LogLevel == "info" {
		s.LogLevel = "debug"
	}
	return s, nil
}

// Keys returns the settings keys in display order.
func Keys() []string {
	return []string{
		"debug", "data_root", "archive_dir", "store_uri", "incremental",
		"log_level", "log_format", "log_every",
		"retry_attempts", "retry_backoff", "retry_max_delay",
		"seeder", "extractor", "transformer", "loader", "exporter",
	}
}

// UseHandlerDefaults replaces every handler name of c that is still the
// built-in default with the handler default of s, so an installation can
// change the default extractor without editing dataset files.
func (c *Config) UseHandlerDefaults(s Settings) {
	swap := func(name *string, builtin, setting string) {
		if *name == builtin && setting != "" {
			*name = setting
		}
	}
	swap(&c.Seed.Handler, DefaultSeedHandler, s.Seeder)
	swap(&c.Extract.Handler, DefaultExtractHandler, s.Extractor)
	swap(&c.Transform.Handler, DefaultTransformHandler, s.Transformer)
	swap(&c.Load.Handler, DefaultLoadHandler, s.Loader)
	swap(&c.Export.Handler, DefaultExportHandler, s.Exporter)
}
