// Package config loads nanotrace settings from an optional YAML file,
// NANOTRACE_* environment variables and command-line overrides, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/coffersTech/nanotrace/internal/modules"
)

// DefaultFile is read when no config file is named and it exists.
const DefaultFile = "nanotrace.yaml"

const envPrefix = "NANOTRACE_"

type Config struct {
	PlainText           bool            `koanf:"plain_text"`
	CustomHeaderHTML    string          `koanf:"custom_header_html"`
	ExportMode          bool            `koanf:"export_mode"`
	Strict              bool            `koanf:"strict"`
	MaterializeLazy     bool            `koanf:"materialize_lazy"`
	CompressStreams     bool            `koanf:"compress_streams"`
	RenderWorkers       int             `koanf:"render_workers"`
	RankWorkers         int             `koanf:"rank_workers"`
	ModuleFailurePolicy string          `koanf:"module_failure_policy"`
	KeepIntermediate    bool            `koanf:"keep_intermediate"`
	StagingMaxAge       time.Duration   `koanf:"staging_max_age"`
	Catalog             CatalogConfig   `koanf:"catalog"`
	Telemetry           TelemetryConfig `koanf:"telemetry"`
	Log                 LogConfig       `koanf:"log"`
}

type CatalogConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Verbose bool `koanf:"verbose"`
	JSON    bool `koanf:"json"`
}

var defaults = map[string]any{
	"materialize_lazy":      true,
	"module_failure_policy": string(modules.FailFatal),
	"staging_max_age":       "24h",
	"catalog.path":          "nanotrace.db",
}

// Load builds the configuration. path names the YAML file; when empty,
// DefaultFile is used if present. overrides are dotted keys set last,
// typically from flags the user passed explicitly.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
	for key, v := range overrides {
		k.Set(key, v)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	if _, err := modules.ParseFailurePolicy(c.ModuleFailurePolicy); err != nil {
		return err
	}
	if c.RenderWorkers < 0 {
		return fmt.Errorf("render_workers must not be negative, got %d", c.RenderWorkers)
	}
	if c.RankWorkers < 0 {
		return fmt.Errorf("rank_workers must not be negative, got %d", c.RankWorkers)
	}
	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return errors.New("catalog.path is required when the catalog is enabled")
	}
	return nil
}

// Settings is the render-time view handed to modules.
func (c *Config) Settings() modules.Settings {
	return modules.Settings{
		PlainText:        c.PlainText,
		CustomHeaderHTML: c.CustomHeaderHTML,
		ExportMode:       c.ExportMode,
		MaterializeLazy:  c.MaterializeLazy,
	}
}

// FailurePolicy returns the parsed module failure policy.
func (c *Config) FailurePolicy() modules.FailurePolicy {
	p, _ := modules.ParseFailurePolicy(c.ModuleFailurePolicy)
	return p
}
