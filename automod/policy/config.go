package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultThreshold    = 10
	DefaultMuteDuration = 10 * time.Minute
)

// Escalation settings, with optional per-scope overrides.
//
// Example YAML:
//
//	threshold: 10
//	mute_duration: 10m
//	scopes:
//	  "123456":
//	    threshold: 5
//	    mute_duration: 1h
type Config struct {
	Threshold    int                    `yaml:"threshold"`
	MuteDuration time.Duration          `yaml:"mute_duration"`
	Scopes       map[string]ScopeConfig `yaml:"scopes"`
}

type ScopeConfig struct {
	Threshold    *int           `yaml:"threshold"`
	MuteDuration *time.Duration `yaml:"mute_duration"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		MuteDuration: DefaultMuteDuration,
	}
}

func (c Config) ThresholdFor(scope string) int {
	if sc, ok := c.Scopes[scope]; ok && sc.Threshold != nil {
		return *sc.Threshold
	}
	return c.Threshold
}

func (c Config) MuteDurationFor(scope string) time.Duration {
	if sc, ok := c.Scopes[scope]; ok && sc.MuteDuration != nil {
		return *sc.MuteDuration
	}
	return c.MuteDuration
}

func (c Config) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative: %d", c.Threshold)
	}
	if c.MuteDuration < 0 {
		return fmt.Errorf("mute_duration must not be negative: %s", c.MuteDuration)
	}
	for scope, sc := range c.Scopes {
		if sc.Threshold != nil && *sc.Threshold < 0 {
			return fmt.Errorf("scope %q: threshold must not be negative: %d", scope, *sc.Threshold)
		}
		if sc.MuteDuration != nil && *sc.MuteDuration < 0 {
			return fmt.Errorf("scope %q: mute_duration must not be negative: %s", scope, *sc.MuteDuration)
		}
	}
	return nil
}

// LoadConfigYAML reads a config file. Fields missing from the file keep their defaults.
func LoadConfigYAML(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing policy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid policy config %s: %w", path, err)
	}
	return cfg, nil
}
