// Package server implements the NeuroGraph HTTP API.
//
// This file defines the Go structs that correspond to the YAML server
// configuration. The file is optional: every field has a flag or built-in
// default, and the config only overrides what it names.

package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/neurograph/pkg/engine"
)

// Config represents the top-level structure of the server configuration file.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":9091").
	Addr string `yaml:"addr"`

	// AuthToken protects the API with a Bearer token. Empty disables auth.
	// Supports env expansion, e.g. "${NEUROGRAPH_TOKEN}".
	AuthToken string `yaml:"auth_token"`

	// DataDir is where the activation log and snapshot live.
	DataDir string `yaml:"data_dir"`

	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig tunes persistence maintenance and the default propagation
// parameters. Durations are Go duration strings ("60s", "1h"). Zero values
// fall back to the engine defaults.
type EngineConfig struct {
	LogFilename          string `yaml:"log_filename"`
	AutoSaveInterval     string `yaml:"auto_save_interval"`
	AutoSaveThreshold    int64  `yaml:"auto_save_threshold"`
	LogRewritePercentage int    `yaml:"log_rewrite_percentage"`
	StrengthHalfLife     string `yaml:"strength_half_life"`

	Propagation PropagationConfig `yaml:"propagation"`
}

// PropagationConfig overrides the default tuning applied to queries that do
// not set their own parameters.
type PropagationConfig struct {
	Strength   float64 `yaml:"strength"`
	Decay      float64 `yaml:"decay"`
	Threshold  float64 `yaml:"threshold"`
	Refractory string  `yaml:"refractory"`
	Epsilon    float64 `yaml:"epsilon"`
}

// LoadConfig reads and parses the YAML configuration file from the given
// path. It uses Strict Mode (KnownFields) to prevent silent errors due to
// typos; environment variables in the file are expanded first.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	expandedData := os.ExpandEnv(string(data))

	var config Config
	decoder := yaml.NewDecoder(strings.NewReader(expandedData))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	return &config, nil
}

// EngineOptions merges the config over engine.DefaultOptions for dataDir.
// Only fields the file actually sets override the defaults.
func (c *Config) EngineOptions(dataDir string) (engine.Options, error) {
	if c.DataDir != "" {
		dataDir = c.DataDir
	}
	opts := engine.DefaultOptions(dataDir)

	ec := c.Engine
	if ec.LogFilename != "" {
		opts.LogFilename = ec.LogFilename
	}
	if err := setDuration(&opts.AutoSaveInterval, ec.AutoSaveInterval, "auto_save_interval"); err != nil {
		return opts, err
	}
	if ec.AutoSaveThreshold != 0 {
		opts.AutoSaveThreshold = ec.AutoSaveThreshold
	}
	if ec.LogRewritePercentage != 0 {
		opts.LogRewritePercentage = ec.LogRewritePercentage
	}
	if err := setDuration(&opts.StrengthHalfLife, ec.StrengthHalfLife, "strength_half_life"); err != nil {
		return opts, err
	}

	pc := ec.Propagation
	if pc.Strength != 0 {
		opts.Defaults.Strength = pc.Strength
	}
	if pc.Decay != 0 {
		opts.Defaults.Decay = pc.Decay
	}
	if pc.Threshold != 0 {
		opts.Defaults.Threshold = pc.Threshold
	}
	if err := setDuration(&opts.Defaults.Refractory, pc.Refractory, "propagation.refractory"); err != nil {
		return opts, err
	}
	if pc.Epsilon != 0 {
		opts.Defaults.Epsilon = pc.Epsilon
	}
	return opts, nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}
