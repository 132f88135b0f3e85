// Package config loads settings for the telemetry plugin and the local
// collector sink. Sources, lowest precedence first: built-in defaults, an
// optional YAML file, then TELEMETRY_-prefixed environment variables
// (double underscore separates sections, e.g. TELEMETRY_API__URL).
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	API  APIConfig  `koanf:"api"`
	Sink SinkConfig `koanf:"sink"`
}

// APIConfig configures the plugin's delivery target.
type APIConfig struct {
	URL string `koanf:"url"`
	// Timeout is the delivery timeout in seconds.
	Timeout float64 `koanf:"timeout"`
	// ProjectID overrides the checkout-derived project identifier.
	ProjectID string `koanf:"project_id"`
	// RaiseOnFailure selects the strict failure policy: a failed delivery
	// propagates to the host instead of degrading to a logged diagnostic.
	RaiseOnFailure bool `koanf:"raise_on_failure"`
}

// SinkConfig configures the local collector sink binary.
type SinkConfig struct {
	Listen string `koanf:"listen"`
	DBPath string `koanf:"db_path"`
}

// Load reads configuration, optionally merging the YAML file at path
// (skipped when path is empty).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("TELEMETRY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "TELEMETRY_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"api.url":              "http://localhost:8080",
		"api.timeout":          5.0,
		"api.raise_on_failure": true,
		"sink.listen":          ":8080",
		"sink.db_path":         "./data/telemetry.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
