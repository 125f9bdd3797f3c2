package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Initialize loads the YAML config at path, merges it onto Defaults(),
// expands environment variables, and validates the result. This is the
// primary entry point used by cmd/sync-engine.
func Initialize(_ context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("loading configuration")

	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded", "poll_interval_seconds", cfg.PollIntervalSeconds, "root_ids", len(cfg.RootIDs))
	return cfg, nil
}

func load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	expanded := ExpandEnv(raw)

	var userCfg Config
	if err := yaml.Unmarshal(expanded, &userCfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	cfg := Defaults()
	// mergo.WithOverride: non-zero fields in userCfg win over the defaults.
	if err := mergo.Merge(cfg, userCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge configuration: %w", err)
	}

	return cfg, nil
}

// Live wraps a Config in an atomic pointer so hot-reloadable fields (log
// level, thresholds, exclusion list — anything that doesn't require
// restarting an adapter connection) can be swapped without a restart. Read
// access is via Current(); writers call Replace() after validating a new
// Config.
type Live struct {
	ptr atomic.Pointer[Config]
}

// NewLive wraps an already-loaded Config for hot-reload access.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.ptr.Store(cfg)
	return l
}

// Current returns the currently active configuration.
func (l *Live) Current() *Config {
	return l.ptr.Load()
}

// Replace atomically swaps in a new validated configuration.
func (l *Live) Replace(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	l.ptr.Store(cfg)
	return nil
}

// ApplyPartial merges a partial update (as decoded from a PUT config
// request body) onto a copy of the current configuration and, if it
// validates, swaps it in. Sensitive fields (API keys, PAT, webhook envs)
// are env-var names, not secrets themselves, so they are safe to echo back
// but are never themselves accepted here — only their *Env field names are.
func (l *Live) ApplyPartial(partial *Config) error {
	current := *l.Current() // shallow copy
	if err := MergeOnto(&current, partial); err != nil {
		return err
	}
	return l.Replace(&current)
}

// MergeOnto mergo-merges partial's non-zero fields onto dst in place. This
// is the raw merge step ApplyPartial uses; exposed separately for callers
// (the control surface's PUT config handler) that need to apply bool
// fields by direct assignment first, since mergo.WithOverride cannot
// distinguish an explicit false from an absent field.
func MergeOnto(dst *Config, partial *Config) error {
	if err := mergo.Merge(dst, *partial, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge partial configuration: %w", err)
	}
	return nil
}
