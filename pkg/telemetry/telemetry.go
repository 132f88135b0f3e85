// Package telemetry provides the public API for wiring the telemetry plugin
// into a host test-runner. This is the stable API for external consumers.
package telemetry

import (
	"time"

	"github.com/tjfontaine/testrun-telemetry/internal/config"
	"github.com/tjfontaine/testrun-telemetry/internal/plugin"
)

// Plugin is the session collector. See internal/plugin.Plugin for full
// documentation.
type Plugin = plugin.Plugin

// Config holds the collector's settings.
type Config = plugin.Config

// SendFunc is the pluggable delivery contract.
type SendFunc = plugin.SendFunc

// Option is a functional option for configuring a Plugin.
type Option = plugin.Option

// New creates a collector for one session.
// Example:
//
//	p := telemetry.New(telemetry.Config{APIURL: "https://telemetry.example.com"})
//	p.Subscribe(dispatcher)
//	defer p.Close()
var New = plugin.New

var (
	WithSendFunc = plugin.WithSendFunc
	WithLogger   = plugin.WithLogger
	WithInitedAt = plugin.WithInitedAt
)

// LoadConfig reads collector settings from the environment and the optional
// YAML file at path (skipped when empty).
func LoadConfig(path string) (Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIURL:         cfg.API.URL,
		Timeout:        time.Duration(cfg.API.Timeout * float64(time.Second)),
		ProjectID:      cfg.API.ProjectID,
		RaiseOnFailure: cfg.API.RaiseOnFailure,
	}, nil
}
