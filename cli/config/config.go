package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/seam/options"
)

// Config represents a seam.yaml configuration file.
// All values are optional and act as defaults for seam run flags.
// CLI flags and per-run option files always override config values.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Display DisplayConfig `yaml:"display"`
	Store   StoreConfig   `yaml:"store"`
	Chain   ChainConfig   `yaml:"chain"`
	Run     RunConfig     `yaml:"run"`

	// Defaults are run options that sit below every config.json layer.
	Defaults map[string]any `yaml:"defaults"`
}

// ArchiveConfig names the archival proxy toolchain binaries.
type ArchiveConfig struct {
	ManagerBin string `yaml:"manager_bin"`
	ServerBin  string `yaml:"server_bin"`
}

// DisplayConfig names the virtual display stack binaries.
type DisplayConfig struct {
	XvfbBin string `yaml:"xvfb_bin"`
	VNCBin  string `yaml:"vnc_bin"`
	WMBin   string `yaml:"wm_bin"`
}

// StoreConfig holds upload defaults from the config file.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ChainConfig holds chain defaults from the config file.
type ChainConfig struct {
	Pattern string `yaml:"pattern"`
	Max     int    `yaml:"max"`
}

// RunConfig holds run defaults from the config file.
type RunConfig struct {
	// Timeout bounds script execution, e.g. "10m".
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// RunDefaults builds the option layer the config file contributes: the
// declared defaults map plus the structured run settings expressed as
// option keys.
func (c *Config) RunDefaults() options.Options {
	defaults := make(options.Options, len(c.Defaults)+1)
	for k, v := range c.Defaults {
		defaults[k] = v
	}
	if c.Run.Timeout.Duration > 0 {
		defaults["timeout"] = int(c.Run.Timeout.Seconds())
	}
	return defaults
}
