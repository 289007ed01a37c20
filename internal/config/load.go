package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loaded captures resolved config path, parsed values, and non-fatal
// warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
// File values overlay defaults; environment overrides apply last.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	cfg := Default()
	exists := true
	warnings := make([]Warning, 0)

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists = false
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
	}

	applyEnvOverrides(&cfg)

	cfg, clampWarnings := clamp(cfg)
	warnings = append(warnings, clampWarnings...)

	validateWarnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}
	warnings = append(warnings, validateWarnings...)

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   exists,
	}, nil
}

// applyEnvOverrides lets deployment-sensitive values bypass the file.
func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Backend.Endpoint, "MUTTER_ENDPOINT")
	overrideString(&cfg.Backend.APIKey, "MUTTER_API_KEY")
	overrideString(&cfg.Backend.Model, "MUTTER_MODEL")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && value != "" {
		*target = value
	}
}

// clamp bounds numeric values that have a supported range rather than
// rejecting them.
func clamp(cfg Config) (Config, []Warning) {
	warnings := make([]Warning, 0)

	const minCommitMS, maxCommitMS = 100, 1000
	if cfg.Backend.CommitIntervalMS < minCommitMS {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("backend.commit_interval_ms %d below minimum; clamped to %d", cfg.Backend.CommitIntervalMS, minCommitMS),
		})
		cfg.Backend.CommitIntervalMS = minCommitMS
	}
	if cfg.Backend.CommitIntervalMS > maxCommitMS {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("backend.commit_interval_ms %d above maximum; clamped to %d", cfg.Backend.CommitIntervalMS, maxCommitMS),
		})
		cfg.Backend.CommitIntervalMS = maxCommitMS
	}

	return cfg, warnings
}
