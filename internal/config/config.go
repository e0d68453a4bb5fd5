// Package config loads mnemo's YAML configuration.
//
// Precedence, lowest first: built-in defaults, the config file, MNEMO_*
// environment variables, then command-line flags (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mnemo/internal/dispatch"
	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/store"
	"github.com/roach88/mnemo/internal/workflow"
)

// Config is the full configuration.
type Config struct {
	DBPath        string        `yaml:"db_path"`
	Workers       int           `yaml:"workers"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	QueueCapacity int           `yaml:"queue_capacity"`
	WorkflowsDir  string        `yaml:"workflows_dir"`
	Search        SearchConfig  `yaml:"search"`
	Embedding     embed.Config  `yaml:"embedding"`
	Actions       ActionsConfig `yaml:"actions"`
}

// SearchConfig tunes hybrid search.
type SearchConfig struct {
	Limit      int     `yaml:"limit"`
	LexicalCap float64 `yaml:"lexical_cap"`
}

// ActionsConfig holds action timeouts as Go duration strings ("30s").
type ActionsConfig struct {
	ShellTimeout string `yaml:"shell_timeout"`
	HTTPTimeout  string `yaml:"http_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:        "mnemo.db",
		Workers:       workflow.DefaultWorkers,
		MaxOpenConns:  store.DefaultMaxOpenConns,
		QueueCapacity: dispatch.DefaultCapacity,
		Search: SearchConfig{
			Limit:      memory.DefaultSearchLimit,
			LexicalCap: memory.LexicalCap,
		},
		Embedding: embed.Config{Provider: embed.ProviderHash},
		Actions: ActionsConfig{
			ShellTimeout: workflow.DefaultShellTimeout.String(),
			HTTPTimeout:  workflow.DefaultHTTPTimeout.String(),
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when path is empty or the default location;
// an explicitly named file must exist.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies MNEMO_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("MNEMO_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MNEMO_WORKFLOWS_DIR"); v != "" {
		c.WorkflowsDir = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("MNEMO_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MNEMO_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

// Validate checks ranges and durations.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.Search.Limit <= 0 {
		errs = append(errs, fmt.Errorf("search.limit must be positive, got %d", c.Search.Limit))
	}
	if c.Search.LexicalCap <= 0 {
		errs = append(errs, fmt.Errorf("search.lexical_cap must be positive, got %v", c.Search.LexicalCap))
	}
	if _, err := parseTimeout(c.Actions.ShellTimeout); err != nil {
		errs = append(errs, fmt.Errorf("actions.shell_timeout: %w", err))
	}
	if _, err := parseTimeout(c.Actions.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Errorf("actions.http_timeout: %w", err))
	}
	return errors.Join(errs...)
}

// ShellTimeout returns the run_shell default timeout.
func (c *Config) ShellTimeout() time.Duration {
	d, err := parseTimeout(c.Actions.ShellTimeout)
	if err != nil {
		return workflow.DefaultShellTimeout
	}
	return d
}

// HTTPTimeout returns the http_request default timeout.
func (c *Config) HTTPTimeout() time.Duration {
	d, err := parseTimeout(c.Actions.HTTPTimeout)
	if err != nil {
		return workflow.DefaultHTTPTimeout
	}
	return d
}

func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// Save writes cfg as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
