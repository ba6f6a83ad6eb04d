// Package config reads the runtime configuration file used by the run
// command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Database is the SQLite file for snapshots and the batch journal.
	// Empty disables persistence.
	Database string `yaml:"database"`

	// Definition is the UI definition file (JSON, YAML or CUE).
	Definition string `yaml:"definition"`

	// FlowID names the flow in the store and in traces.
	FlowID string `yaml:"flow_id"`

	// InitialContext is a JSON or YAML file holding the starting context.
	// Ignored when the store already has a snapshot for FlowID.
	InitialContext string `yaml:"initial_context"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ActionTimeout bounds each handler invocation. Zero means none.
	ActionTimeout time.Duration `yaml:"action_timeout"`

	API     APIConfig      `yaml:"api"`
	MQTT    *MQTTConfig    `yaml:"mqtt,omitempty"`
	Plugins []PluginConfig `yaml:"plugins,omitempty"`
}

// APIConfig configures the api action handler.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTConfig enables publishing flow events to an MQTT broker.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// PluginConfig registers a JavaScript plugin.
type PluginConfig struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   "127.0.0.1:8080",
		FlowID:   "default",
		LogLevel: "info",
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a configuration file on top of Default. Relative file paths in
// the file are resolved against the file's directory.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Decode parses YAML on top of Default and validates the result.
// Unknown fields are rejected.
func Decode(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "flowrt-" + cfg.FlowID
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "flowrt/" + cfg.FlowID
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and value ranges. All problems are
// returned joined.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if strings.TrimSpace(c.FlowID) == "" {
		errs = append(errs, errors.New("flow_id is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.ActionTimeout < 0 {
		errs = append(errs, errors.New("action_timeout must not be negative"))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}
	if c.MQTT != nil {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is configured"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
		}
	}
	seen := make(map[string]bool)
	for i, p := range c.Plugins {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("plugins[%d]: name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate plugin name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Script == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: script is required", i))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Database)
	resolve(&c.Definition)
	resolve(&c.InitialContext)
	for i := range c.Plugins {
		resolve(&c.Plugins[i].Script)
	}
}
