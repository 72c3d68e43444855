// Package config provides the immutable run configuration for geocatctl.
// A Config is built once at process start from compiled defaults, optionally
// overlaid with ~/.geocatctl/config.yaml, and passed explicitly to the
// components that need it. Nothing mutates a Config after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownEnvironment is returned when an environment name is not in
	// the allow-list. Treated as a fatal startup condition by the CLI.
	ErrUnknownEnvironment = errors.New("unknown environment")
	// ErrInvalidValue is returned when a configured value is out of bounds.
	ErrInvalidValue = errors.New("invalid config value")
)

// Environment is one named catalogue instance.
type Environment struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	// Production guards destructive commands behind an extra warning.
	Production bool `yaml:"production,omitempty"`
	// Database settings for the read-only contract. The database name
	// follows the environment (geocat-int, geocat-prod).
	DBHost string `yaml:"db_host,omitempty"`
	DBName string `yaml:"db_name,omitempty"`
}

// Retry bounds the reconnect loop used for MEF exports. The original
// behaviour was an unbounded tight loop on proxy errors; exports now back
// off exponentially between attempts.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Validation bounds for retry settings.
const (
	MinRetryAttempts = 1
	MaxRetryAttempts = 100
)

// Config is the process-wide configuration.
type Config struct {
	Environments map[string]Environment `yaml:"environments"`
	// Proxies are candidate proxy URLs probed in order at session start.
	// An empty string means a direct connection and is always the final
	// fallback.
	Proxies []string `yaml:"proxies"`
	Retry   Retry    `yaml:"retry"`
	// Namespaces maps XML namespace prefixes to URLs for the ISO 19139
	// profile used by the catalogue.
	Namespaces map[string]string `yaml:"namespaces,omitempty"`
}

// Default returns the compiled-in configuration for geocat.ch.
func Default() *Config {
	return &Config{
		Environments: map[string]Environment{
			"int": {
				Name:    "int",
				BaseURL: "https://geocat-int.dev.bgdi.ch",
				DBHost:  "database-lb.geocat.swisstopo.cloud",
				DBName:  "geocat-int",
			},
			"prod": {
				Name:       "prod",
				BaseURL:    "https://www.geocat.ch",
				Production: true,
				DBHost:     "database-lb.geocat.swisstopo.cloud",
				DBName:     "geocat-prod",
			},
		},
		Proxies: []string{
			"http://proxy-bvcol.admin.ch:8080",
			"http://proxy.admin.ch:8080",
			"", // direct
		},
		Retry: Retry{
			Attempts: 5,
			Delay:    time.Second,
			MaxDelay: 30 * time.Second,
		},
		Namespaces: map[string]string{
			"che":    "http://www.geocat.ch/2008/che",
			"gco":    "http://www.isotc211.org/2005/gco",
			"gmd":    "http://www.isotc211.org/2005/gmd",
			"gml":    "http://www.opengis.net/gml/3.2",
			"gmx":    "http://www.isotc211.org/2005/gmx",
			"srv":    "http://www.isotc211.org/2005/srv",
			"xlink":  "http://www.w3.org/1999/xlink",
			"geonet": "http://www.fao.org/geonetwork",
		},
	}
}

// Load builds the configuration: defaults overlaid with the user's
// config.yaml when one exists. A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	p, err := path()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	cfg.merge(&overlay)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays non-zero fields from o onto c. Environments merge by name;
// proxy and retry settings replace wholesale when set.
func (c *Config) merge(o *Config) {
	for name, env := range o.Environments {
		env.Name = name
		base, ok := c.Environments[name]
		if ok {
			if env.BaseURL == "" {
				env.BaseURL = base.BaseURL
			}
			if env.DBHost == "" {
				env.DBHost = base.DBHost
			}
			if env.DBName == "" {
				env.DBName = base.DBName
			}
		}
		c.Environments[name] = env
	}
	if len(o.Proxies) > 0 {
		c.Proxies = o.Proxies
	}
	if o.Retry.Attempts > 0 {
		c.Retry.Attempts = o.Retry.Attempts
	}
	if o.Retry.Delay > 0 {
		c.Retry.Delay = o.Retry.Delay
	}
	if o.Retry.MaxDelay > 0 {
		c.Retry.MaxDelay = o.Retry.MaxDelay
	}
}

// Validate checks that all configured values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.Retry.Attempts < MinRetryAttempts || c.Retry.Attempts > MaxRetryAttempts {
		return fmt.Errorf("%w: retry attempts must be between %d and %d, got %d",
			ErrInvalidValue, MinRetryAttempts, MaxRetryAttempts, c.Retry.Attempts)
	}
	if c.Retry.Delay <= 0 {
		return fmt.Errorf("%w: retry delay must be positive, got %s", ErrInvalidValue, c.Retry.Delay)
	}
	if c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("%w: retry max_delay %s is below delay %s",
			ErrInvalidValue, c.Retry.MaxDelay, c.Retry.Delay)
	}
	for name, env := range c.Environments {
		if env.BaseURL == "" {
			return fmt.Errorf("%w: environment %q has no base_url", ErrInvalidValue, name)
		}
	}
	return nil
}

// Environment resolves a name against the allow-list.
func (c *Config) Environment(name string) (Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEnvironment, name, c.EnvironmentNames())
	}
	if env.Name == "" {
		env.Name = name
	}
	return env, nil
}

// EnvironmentNames returns the allow-list in stable order, for error
// messages and help text.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".geocatctl", "config.yaml"), nil
}
