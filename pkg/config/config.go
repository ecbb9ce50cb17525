package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/meowctl/internal/catalog"
	"github.com/srg/meowctl/internal/device"
)

// Supported backends
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"` // text or json
	Backend   string `yaml:"backend" default:"goble"`

	Scan              ScanConfig    `yaml:"scan"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"30s"`
	PowerPollInterval time.Duration `yaml:"power_poll_interval" default:"2s"`
	EventBuffer       int           `yaml:"event_buffer" default:"64"`

	// Features override or extend the stock catalog, matched by name.
	Features    []FeatureConfig `yaml:"features"`
	OSC         OSCConfig       `yaml:"osc"`
	RoutinesDir string          `yaml:"routines_dir"`
}

// ScanConfig selects which advertisements are managed.
type ScanConfig struct {
	NamePrefix      string   `yaml:"name_prefix" default:"Meow"`
	ServiceUUIDs    []string `yaml:"service_uuids"`
	AllowDuplicates bool     `yaml:"allow_duplicates"`
}

type FeatureConfig struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid"`
	On   string `yaml:"on"`
	Off  string `yaml:"off"`
}

// OSCConfig enables the OSC bridge when Listen is set.
type OSCConfig struct {
	Listen   string `yaml:"listen"`   // host:port for incoming commands
	Feedback string `yaml:"feedback"` // host:port receiving state changes
}

// Default returns default configuration values
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultConfigPath returns ~/.config/meowctl/config.yaml, or "" when the
// home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "meowctl", "config.yaml")
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.RoutinesDir = expandTilde(cfg.RoutinesDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when given. With an empty path the default
// location is tried, and a missing default file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	path = DefaultConfigPath()
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend)
	}

	if strings.TrimSpace(c.Scan.NamePrefix) == "" {
		return fmt.Errorf("scan.name_prefix must not be empty")
	}
	if len(c.Scan.ServiceUUIDs) > 0 {
		if _, err := device.ValidateUUID(c.Scan.ServiceUUIDs...); err != nil {
			return fmt.Errorf("scan.service_uuids: %w", err)
		}
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.PowerPollInterval <= 0 {
		return fmt.Errorf("power_poll_interval must be > 0")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be > 0")
	}

	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// Filter builds the scan filter.
func (c *Config) Filter() device.ScanFilter {
	return device.NewScanFilter(c.Scan.NamePrefix, c.Scan.ServiceUUIDs...)
}

// Catalog merges the configured features into the stock ones. A configured
// feature replaces the stock feature of the same name, field by field.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Features) == 0 {
		return catalog.Default(), nil
	}

	features := catalog.DefaultFeatures()
	index := make(map[string]int, len(features))
	for i, f := range features {
		index[f.Name] = i
	}

	for _, fc := range c.Features {
		i, ok := index[fc.Name]
		if !ok {
			features = append(features, catalog.Feature{Name: fc.Name})
			i = len(features) - 1
			index[fc.Name] = i
		}
		f := &features[i]
		if fc.UUID != "" {
			f.UUID = fc.UUID
		}
		if fc.On != "" {
			f.On = catalog.Command(fc.On)
		}
		if fc.Off != "" {
			f.Off = catalog.Command(fc.Off)
		}
	}

	return catalog.New(features...)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
