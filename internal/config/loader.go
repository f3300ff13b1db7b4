package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*QuorumConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultPaths returns the conventional global and project config paths.
// Global: ~/.quorum/config.json
// Project: .quorum/config.json (relative to cwd)
func DefaultPaths() (globalPath, projectPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".quorum", "config.json"), filepath.Join(".quorum", "config.json"), nil
}

// LoadDefault loads configuration from conventional paths.
func LoadDefault() (*QuorumConfig, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Scalar sections are overlaid field by field: only keys present in the file change.
func mergeConfigFile(base *QuorumConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Seed with current values so absent keys keep them
	loaded := QuorumConfig{
		Engine:      base.Engine,
		Retry:       base.Retry,
		WorkersFile: base.WorkersFile,
		Telemetry:   base.Telemetry,
	}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}

	for key, role := range loaded.Roles {
		base.Roles[key] = role
	}

	base.Engine = loaded.Engine
	base.Retry = loaded.Retry
	base.WorkersFile = loaded.WorkersFile
	base.Telemetry = loaded.Telemetry

	return nil
}

// Validate checks engine policy values and role/provider references.
func (c *QuorumConfig) Validate() error {
	e := c.Engine
	switch {
	case e.MaxAttempts < 1:
		return fmt.Errorf("engine.max_attempts must be >= 1, got %d", e.MaxAttempts)
	case e.AcceptThreshold < 0 || e.AcceptThreshold > 10:
		return fmt.Errorf("engine.accept_threshold must be in [0, 10], got %.2f", e.AcceptThreshold)
	case e.Judges < 1:
		return fmt.Errorf("engine.judges must be >= 1, got %d", e.Judges)
	case e.ReputationScale <= 0:
		return fmt.Errorf("engine.reputation_scale must be > 0, got %.2f", e.ReputationScale)
	case e.ShortTaskWords < 1 || e.MediumTaskWords < e.ShortTaskWords:
		return fmt.Errorf("engine word thresholds must satisfy 1 <= short (%d) <= medium (%d)", e.ShortTaskWords, e.MediumTaskWords)
	case e.MaxGraphSize < 1:
		return fmt.Errorf("engine.max_graph_size must be >= 1, got %d", e.MaxGraphSize)
	case e.MaxExpansionDepth < 0:
		return fmt.Errorf("engine.max_expansion_depth must be >= 0, got %d", e.MaxExpansionDepth)
	case e.ConcurrencyLimit < 0:
		return fmt.Errorf("engine.concurrency_limit must be >= 0, got %d", e.ConcurrencyLimit)
	case c.Retry.MaxRetries < 0:
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}

	for name, role := range c.Roles {
		if _, ok := c.Providers[role.Provider]; !ok {
			return fmt.Errorf("role %q references unknown provider %q", name, role.Provider)
		}
	}

	return nil
}
