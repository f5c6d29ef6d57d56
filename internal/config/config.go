// Package config loads loanflow settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/loanflow/internal/logging"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
)

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "LOANFLOW_CONFIG"

// DefaultPath is read when neither a flag nor EnvPath names a file.
const DefaultPath = "loanflow.yml"

// Config is the complete loanflow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Agents    AgentsConfig    `yaml:"agents"`
	Assistant AssistantConfig `yaml:"assistant"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type SessionConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type PipelineConfig struct {
	Deadline    time.Duration `yaml:"deadline"`
	Boundary    string        `yaml:"boundary"`
	DefaultRate float64       `yaml:"default_rate"`
	DefaultTerm int           `yaml:"default_term"`
	Stages      []StageConfig `yaml:"stages"`
}

// StageConfig describes one pipeline stage. An empty Endpoint runs the
// built-in assessor in-process; otherwise the stage is driven over A2A.
type StageConfig struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type AgentsConfig struct {
	BasePort int           `yaml:"base_port"`
	Latency  time.Duration `yaml:"latency"`
}

type AssistantConfig struct {
	Name string `yaml:"name"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    logging.Config{Level: "info", Format: "text"},
		Session: SessionConfig{
			Driver:          "memory",
			Path:            ".loanflow/sessions.db",
			TTL:             24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Deadline:    orchestrator.DefaultDeadline,
			Boundary:    "explicit",
			DefaultRate: 7.5,
			DefaultTerm: 360,
		},
		Agents:    AgentsConfig{BasePort: 9100},
		Assistant: AssistantConfig{Name: "Mortgage Intake Assistant"},
	}
	for _, s := range orchestrator.DefaultStages() {
		cfg.Pipeline.Stages = append(cfg.Pipeline.Stages, StageConfig{ID: string(s.ID), Label: s.Label})
	}
	return cfg
}

// ResolvePath picks the config file: the explicit path if given, then
// $LOANFLOW_CONFIG, then DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	switch c.Session.Driver {
	case "memory":
	case "sqlite":
		if c.Session.Path == "" {
			errs = append(errs, errors.New("session.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.driver %q must be memory or sqlite", c.Session.Driver))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("session.cleanup_interval must be positive"))
	}
	if c.Pipeline.Deadline <= 0 {
		errs = append(errs, errors.New("pipeline.deadline must be positive"))
	}
	if _, err := orchestrator.ParseBoundaryMode(c.Pipeline.Boundary); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.boundary: %w", err))
	}
	if c.Pipeline.DefaultRate <= 0 || c.Pipeline.DefaultRate >= 100 {
		errs = append(errs, fmt.Errorf("pipeline.default_rate %v must be in (0, 100)", c.Pipeline.DefaultRate))
	}
	if c.Pipeline.DefaultTerm <= 0 {
		errs = append(errs, errors.New("pipeline.default_term must be positive"))
	}
	if len(c.Pipeline.Stages) == 0 {
		errs = append(errs, errors.New("pipeline.stages must not be empty"))
	}
	seen := make(map[string]bool)
	for i, s := range c.Pipeline.Stages {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("pipeline.stages[%d].id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("pipeline.stages[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
	}
	if c.Agents.BasePort <= 0 || c.Agents.BasePort+len(c.Pipeline.Stages) > 65535 {
		errs = append(errs, fmt.Errorf("agents.base_port %d out of range", c.Agents.BasePort))
	}
	return errors.Join(errs...)
}

// Stages converts the configured stage list for the orchestrator.
func (c *Config) Stages() []orchestrator.Stage {
	out := make([]orchestrator.Stage, len(c.Pipeline.Stages))
	for i, s := range c.Pipeline.Stages {
		out[i] = orchestrator.Stage{ID: orchestrator.StageID(s.ID), Label: s.Label}
	}
	return out
}

// Boundary returns the parsed boundary mode. Call after Validate.
func (c *Config) Boundary() orchestrator.BoundaryMode {
	m, _ := orchestrator.ParseBoundaryMode(c.Pipeline.Boundary)
	return m
}
