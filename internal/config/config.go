// Package config loads the application configuration. Precedence, last
// wins: built-in defaults, the YAML config file, EXAMLOOP_* environment
// variables, command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/examloop/examloop/internal/fsrs"
)

const envPrefix = "EXAMLOOP_"

// Config is the full application configuration.
type Config struct {
	DBPath   string `koanf:"db_path" validate:"required"`
	ReposDir string `koanf:"repos_dir" validate:"required"`
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Scheduling.
	TargetRetention     float64         `koanf:"target_retention" validate:"gt=0,lt=1"`
	MaximumIntervalDays int             `koanf:"maximum_interval_days" validate:"min=1"`
	LearningSteps       []time.Duration `koanf:"learning_steps" validate:"min=1"`
	RelearningSteps     []time.Duration `koanf:"relearning_steps" validate:"min=1"`

	// Weights overrides the built-in model weights when set.
	Weights []float64 `koanf:"weights" validate:"omitempty,len=19"`

	// Session behavior.
	LeechThreshold   int `koanf:"leech_threshold" validate:"min=1"`
	InterleaveWindow int `koanf:"interleave_window" validate:"min=1"`
	MaxNewPerDay     int `koanf:"max_new_per_day" validate:"min=0"`
	MaxReviews       int `koanf:"max_reviews" validate:"min=1"`

	// OptimizeMinEvents gates parameter fitting.
	OptimizeMinEvents int `koanf:"optimize_min_events" validate:"min=1"`
}

func defaults() map[string]any {
	p := fsrs.DefaultParams()
	return map[string]any{
		"db_path":               "examloop.db",
		"repos_dir":             "repos",
		"log_level":             "info",
		"target_retention":      p.TargetRetention,
		"maximum_interval_days": p.MaximumIntervalDays,
		"learning_steps":        []string{"1m", "10m"},
		"relearning_steps":      []string{"10m"},
		"leech_threshold":       8,
		"interleave_window":     1,
		"max_new_per_day":       20,
		"max_reviews":           100,
		"optimize_min_events":   1000,
	}
}

// Load reads the configuration. path may be empty or point to a missing
// file, in which case the file layer is skipped. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the resulting model parameters.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// A weight override must also survive the model's own checks.
	if _, err := c.Params(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Params builds the scheduler parameters this configuration describes.
func (c *Config) Params() (*fsrs.Params, error) {
	p := fsrs.DefaultParams()
	p.TargetRetention = c.TargetRetention
	p.MaximumIntervalDays = c.MaximumIntervalDays
	p.LearningSteps = append([]time.Duration(nil), c.LearningSteps...)
	p.RelearningSteps = append([]time.Duration(nil), c.RelearningSteps...)
	if len(c.Weights) > 0 {
		p.W = append([]float64(nil), c.Weights...)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SlogLevel maps the configured level onto slog's.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
