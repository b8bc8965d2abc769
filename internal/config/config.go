// Package config loads the pgnzst configuration from defaults, an optional
// YAML file and PGNZST_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/pgnzst/internal/pool"
)

// EnvPrefix prefixes every environment variable, e.g. PGNZST_N_SIMULTANEOUS.
const EnvPrefix = "PGNZST"

// Config is the full process configuration.
type Config struct {
	pool.Config `yaml:",inline"`

	LogLevel    string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{Config: pool.DefaultConfig(), LogLevel: "info"}
}

// Load builds a Config. An empty path skips the YAML layer. The result is
// not validated; pool.New does that.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config from environment: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
