// Package config loads the engine configuration from a YAML file. Clinical
// bounds and device limits are written as decimal strings so values survive
// the trip through YAML without float drift.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mwinther/pumpvault/guardrails"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// StorageConfig locates the profile storage directory.
type StorageConfig struct {
	Directory string `yaml:"directory"`
}

// BoundsConfig is an inclusive min/max pair of decimal strings.
type BoundsConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// LimitsConfig carries the configured clinical bounds and device limits.
// SupportedBasalRates acts as a fallback when no device reports its own
// increment set; an absent MaxBasalRatePerHour means no maximum is set,
// which validation treats as a failure in its own right.
type LimitsConfig struct {
	SupportedBasalRates []string      `yaml:"supported_basal_rates,omitempty"`
	MaxBasalRatePerHour string        `yaml:"max_basal_rate_per_hour,omitempty"`
	CorrectionRange     *BoundsConfig `yaml:"correction_range,omitempty"`
	InsulinSensitivity  *BoundsConfig `yaml:"insulin_sensitivity,omitempty"`
	CarbRatio           *BoundsConfig `yaml:"carb_ratio,omitempty"`
}

// RulesConfig holds optional site-specific validation expressions, one per
// schedule kind.
type RulesConfig struct {
	CorrectionRange    string `yaml:"correction_range,omitempty"`
	CarbRatio          string `yaml:"carb_ratio,omitempty"`
	BasalRate          string `yaml:"basal_rate,omitempty"`
	InsulinSensitivity string `yaml:"insulin_sensitivity,omitempty"`
}

// SyncConfig tunes the hardware synchronization step.
type SyncConfig struct {
	Timeout Duration `yaml:"timeout,omitempty"`
}

// LokiConfig enables log shipping to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Rules   RulesConfig   `yaml:"rules,omitempty"`
	Sync    SyncConfig    `yaml:"sync,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// Load reads and validates the configuration file at path. Decimal fields
// and rule expressions are checked here so mistakes surface at startup
// rather than during a save or load.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required")
	}
	if _, err := c.GuardrailLimits(); err != nil {
		return err
	}
	return nil
}

// GuardrailLimits converts the configured limits and rules into the form the
// validation engine consumes.
func (c *Config) GuardrailLimits() (guardrails.Limits, error) {
	var limits guardrails.Limits

	if len(c.Limits.SupportedBasalRates) > 0 {
		rates := make([]decimal.Decimal, len(c.Limits.SupportedBasalRates))
		for i, raw := range c.Limits.SupportedBasalRates {
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return guardrails.Limits{}, fmt.Errorf("limits.supported_basal_rates[%d]: parse %q: %w", i, raw, err)
			}
			rates[i] = rate
		}
		limits.SupportedBasalRates = rates
	}

	if c.Limits.MaxBasalRatePerHour != "" {
		max, err := decimal.NewFromString(c.Limits.MaxBasalRatePerHour)
		if err != nil {
			return guardrails.Limits{}, fmt.Errorf("limits.max_basal_rate_per_hour: parse %q: %w", c.Limits.MaxBasalRatePerHour, err)
		}
		limits.MaxBasalRatePerHour = &max
	}

	var err error
	if limits.CorrectionRange, err = parseBounds("limits.correction_range", c.Limits.CorrectionRange); err != nil {
		return guardrails.Limits{}, err
	}
	if limits.InsulinSensitivity, err = parseBounds("limits.insulin_sensitivity", c.Limits.InsulinSensitivity); err != nil {
		return guardrails.Limits{}, err
	}
	if limits.CarbRatio, err = parseBounds("limits.carb_ratio", c.Limits.CarbRatio); err != nil {
		return guardrails.Limits{}, err
	}

	if limits.Rules.CorrectionRange, err = compileRule("rules.correction_range", c.Rules.CorrectionRange); err != nil {
		return guardrails.Limits{}, err
	}
	if limits.Rules.CarbRatio, err = compileRule("rules.carb_ratio", c.Rules.CarbRatio); err != nil {
		return guardrails.Limits{}, err
	}
	if limits.Rules.BasalRate, err = compileRule("rules.basal_rate", c.Rules.BasalRate); err != nil {
		return guardrails.Limits{}, err
	}
	if limits.Rules.InsulinSensitivity, err = compileRule("rules.insulin_sensitivity", c.Rules.InsulinSensitivity); err != nil {
		return guardrails.Limits{}, err
	}

	return limits, nil
}

func parseBounds(field string, cfg *BoundsConfig) (guardrails.Bounds, error) {
	if cfg == nil {
		return guardrails.Bounds{}, fmt.Errorf("%s is required", field)
	}
	min, err := decimal.NewFromString(cfg.Min)
	if err != nil {
		return guardrails.Bounds{}, fmt.Errorf("%s.min: parse %q: %w", field, cfg.Min, err)
	}
	max, err := decimal.NewFromString(cfg.Max)
	if err != nil {
		return guardrails.Bounds{}, fmt.Errorf("%s.max: parse %q: %w", field, cfg.Max, err)
	}
	if min.GreaterThan(max) {
		return guardrails.Bounds{}, fmt.Errorf("%s: min %s exceeds max %s", field, min, max)
	}
	return guardrails.Bounds{Min: min, Max: max}, nil
}

func compileRule(field, source string) (*guardrails.Rule, error) {
	if source == "" {
		return nil, nil
	}
	rule, err := guardrails.CompileRule(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return rule, nil
}
