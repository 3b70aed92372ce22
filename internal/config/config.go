package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "TONAL_"

// Output backends.
const (
	OutputStream = "stream"
	OutputDevice = "device"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port       int      `env:"PORT" envDefault:"8080"`
	Output     string   `env:"OUTPUT" envDefault:"stream"` // stream or device
	ICEServers []string `env:"ICE_SERVERS" envSeparator:","`

	// Content and history
	Catalog string `env:"CATALOG"` // YAML file; empty uses the built-in catalog
	DB      string `env:"DB"`      // SQLite history; empty disables it

	// Playback
	QualifyingSeconds int `env:"QUALIFYING_SECONDS" envDefault:"300"`
	MainVolume        int `env:"MAIN_VOLUME" envDefault:"70"`
	LayerVolume       int `env:"LAYER_VOLUME" envDefault:"50"`

	// Tracing
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load reads configuration from TONAL_* environment variables with sane
// defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%sPORT %d out of range", Prefix, c.Port)
	}
	if c.Output != OutputStream && c.Output != OutputDevice {
		return fmt.Errorf("%sOUTPUT must be %q or %q, got %q", Prefix, OutputStream, OutputDevice, c.Output)
	}
	if c.QualifyingSeconds <= 0 {
		return fmt.Errorf("%sQUALIFYING_SECONDS must be positive", Prefix)
	}
	for name, v := range map[string]int{"MAIN_VOLUME": c.MainVolume, "LAYER_VOLUME": c.LayerVolume} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s%s %d outside 0..100", Prefix, name, v)
		}
	}
	return nil
}

// Qualifying returns the completion threshold.
func (c Config) Qualifying() time.Duration {
	return time.Duration(c.QualifyingSeconds) * time.Second
}
