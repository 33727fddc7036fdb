// Package config handles pagekeeper configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagekeeper/internal/browser"
	"github.com/hazyhaar/pagekeeper/internal/rules"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
)

// Config is the top-level pagekeeper configuration. An absent sinks
// section means stdout; an explicit empty list means no configured sinks.
type Config struct {
	// URL is the page pagekeeper opens (or attaches to) and keeps reconciled.
	URL string `yaml:"url"`

	Browser browser.Config          `yaml:"browser"`
	Timing  TimingConfig            `yaml:"timing"`
	Sheets  map[string]sheet.Source `yaml:"sheets"`
	Rules   rules.Config            `yaml:"rules"`
	Sinks   []SinkConfig            `yaml:"sinks"`
	Status  StatusConfig            `yaml:"status"`
}

// TimingConfig tunes the scheduler. Zero values take the scheduler
// defaults.
type TimingConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Settle      time.Duration `yaml:"settle"`
	Poll        time.Duration `yaml:"poll"`
	RuleTimeout time.Duration `yaml:"rule_timeout"`
	StuckAfter  int           `yaml:"stuck_after"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | journal
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // journal
}

// StatusConfig controls the local HTTP API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoadFile reads and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	c.Browser.UserDataDir = expandHome(c.Browser.UserDataDir)
	for i := range c.Sinks {
		c.Sinks[i].Path = expandHome(c.Sinks[i].Path)
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:7878"
	}
	for name, src := range c.Sheets {
		src.Name = name
		if src.Key == "" {
			src.Key = "Customer"
		}
		if src.Timeout <= 0 {
			src.Timeout = 10 * time.Second
		}
		c.Sheets[name] = src
	}
	if c.Sinks == nil {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("config: url is required"))
	} else if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: url %q is not absolute", c.URL))
	}

	names := make([]string, 0, len(c.Sheets))
	for name := range c.Sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Sheets[name].URL == "" {
			errs = append(errs, fmt.Errorf("config: sheet %q: url is required", name))
		}
	}

	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook needs url", i))
			}
		case "journal":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: journal needs path", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}

// JournalPath returns the path of the first journal sink, if any.
func (c *Config) JournalPath() string {
	for _, s := range c.Sinks {
		if s.Type == "journal" {
			return s.Path
		}
	}
	return ""
}
