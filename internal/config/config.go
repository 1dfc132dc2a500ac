// Package config loads the server configuration from a YAML file, with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP bind address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// Database is the SQLite database path.
	Database string `yaml:"database"`

	AI        AIConfig        `yaml:"ai"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// AIConfig configures the structured-generation collaborator.
// APIKey is normally left empty in the file and supplied via the
// OPENAI_API_KEY environment variable.
type AIConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Poll    Duration `yaml:"poll"`
}

// Duration is a time.Duration that decodes from YAML duration strings
// such as "15s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: "runlet.db",
		Scheduler: SchedulerConfig{
			Enabled: true,
			Poll:    Duration(15 * time.Second),
		},
	}
}

// Load reads a YAML configuration file on top of the defaults, then
// applies environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: 'listen' must not be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("config: 'database' must not be empty")
	}
	if c.Scheduler.Enabled && c.Scheduler.Poll <= 0 {
		return fmt.Errorf("config: 'scheduler.poll' must be positive when the scheduler is enabled")
	}
	return nil
}
