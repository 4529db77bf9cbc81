// ABOUTME: Configuration loading for callgate-demo
// ABOUTME: Reads YAML or TOML by extension, expands ${VAR} references and parses durations

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the demo configuration.
type Config struct {
	Logging   LoggingConfig `yaml:"logging" toml:"logging"`
	Cache     CacheConfig   `yaml:"cache" toml:"cache"`
	Scenarios []Scenario    `yaml:"scenarios" toml:"scenarios"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// CacheConfig holds the freshness window applied to every scenario.
type CacheConfig struct {
	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// Scenario describes one simulated fetch and how hard to hit it.
type Scenario struct {
	Name    string   `yaml:"name" toml:"name"`
	Keys    []string `yaml:"keys" toml:"keys"`
	Callers int      `yaml:"callers" toml:"callers"`
	Rounds  int      `yaml:"rounds" toml:"rounds"`
	Fail    bool     `yaml:"fail" toml:"fail"`

	Latency    time.Duration `yaml:"-" toml:"-"`
	LatencyRaw string        `yaml:"latency" toml:"latency"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Cache:   CacheConfig{TTL: time.Minute},
		Scenarios: []Scenario{
			{Name: "user", Keys: []string{"1", "2"}, Callers: 5, Rounds: 2, Latency: 50 * time.Millisecond},
			{Name: "flaky", Keys: []string{"x"}, Callers: 3, Rounds: 2, Latency: 20 * time.Millisecond, Fail: true},
		},
	}
}

// Load reads a configuration file. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or the
// empty string when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	} else {
		cfg.Cache.TTL = time.Minute
	}

	for i := range cfg.Scenarios {
		sc := &cfg.Scenarios[i]
		if sc.LatencyRaw == "" {
			continue
		}
		sc.Latency, err = time.ParseDuration(sc.LatencyRaw)
		if err != nil {
			return fmt.Errorf("parsing scenarios[%d].latency %q: %w", i, sc.LatencyRaw, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.Scenarios {
		sc := &c.Scenarios[i]
		if sc.Callers == 0 {
			sc.Callers = 1
		}
		if sc.Rounds == 0 {
			sc.Rounds = 1
		}
	}
}

// Validate checks that every scenario can run.
func (c *Config) Validate() error {
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario is required")
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for i, sc := range c.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenarios[%d].name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("scenarios[%d].name %q is duplicated", i, sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Keys) == 0 {
			return fmt.Errorf("scenarios[%d].keys must not be empty", i)
		}
		if sc.Callers < 0 || sc.Rounds < 0 {
			return fmt.Errorf("scenarios[%d]: callers and rounds must be positive", i)
		}
		if sc.Latency < 0 {
			return fmt.Errorf("scenarios[%d].latency must not be negative", i)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
